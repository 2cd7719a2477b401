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

	"github.com/klauspost/compress/zlib"
)

// DeflateFilter emits the zlib container: 2-byte header, raw-deflate
// body, Adler-32 footer.
type DeflateFilter struct {
	buf *bytes.Buffer
	w   *zlib.Writer
}

// NewDeflateFilter returns a ready-to-use Deflate filter.
func NewDeflateFilter() *DeflateFilter {
	buf := &bytes.Buffer{}
	return &DeflateFilter{buf: buf, w: zlib.NewWriter(buf)}
}

func (f *DeflateFilter) Name() string { return "deflate" }

func (f *DeflateFilter) Headers(h http.Header) {
	h.Del("Content-Length")
}

func (f *DeflateFilter) Begin() []byte { return nil }

func (f *DeflateFilter) Data(p []byte) ([]byte, error) {
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

func (f *DeflateFilter) End() ([]byte, error) {
	if err := f.w.Close(); err != nil {
		return nil, err
	}
	return f.drain(), nil
}

func (f *DeflateFilter) drain() []byte {
	out := make([]byte, f.buf.Len())
	copy(out, f.buf.Bytes())
	f.buf.Reset()
	return out
}
