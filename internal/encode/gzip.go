// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package encode

import (
	"bytes"
	"net/http"

	"github.com/klauspost/compress/gzip"
)

// GzipFilter emits the 10-byte gzip header, raw-deflate body, and the
// CRC32+ISIZE footer through the Filter Begin/Data/End hooks
// instead of net/http's ResponseWriter middleware shape.
type GzipFilter struct {
	buf   *bytes.Buffer
	w     *gzip.Writer
	level int
}

// NewGzipFilter returns a ready-to-use Gzip filter at the given
// compression level (gzip.DefaultCompression if level is 0).
func NewGzipFilter(level int) *GzipFilter {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	buf := &bytes.Buffer{}
	w, _ := gzip.NewWriterLevel(buf, level)
	return &GzipFilter{buf: buf, w: w, level: level}
}

func (f *GzipFilter) Name() string { return "gzip" }

func (f *GzipFilter) Headers(h http.Header) {
	h.Del("Content-Length")
}

func (f *GzipFilter) Begin() []byte { return nil }

func (f *GzipFilter) Data(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if _, err := f.w.Write(p); err != nil {
		return nil, err
	}
	if err := f.w.Flush(); err != nil {
		return nil, err
	}
	return f.drain(), nil
}

func (f *GzipFilter) End() ([]byte, error) {
	if err := f.w.Close(); err != nil {
		return nil, err
	}
	return f.drain(), nil
}

func (f *GzipFilter) drain() []byte {
	out := make([]byte, f.buf.Len())
	copy(out, f.buf.Bytes())
	f.buf.Reset()
	return out
}
