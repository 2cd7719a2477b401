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
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"testing"
)

func TestDeflateFilterRoundTrips(t *testing.T) {
	f := NewDeflateFilter()
	var out []byte
	chunk, err := f.Data([]byte("hello, world"))
	if err != nil {
		t.Fatal(err)
	}
	out = append(out, chunk...)
	tail, err := f.End()
	if err != nil {
		t.Fatal(err)
	}
	out = append(out, tail...)

	zr, err := zlib.NewReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("not a valid zlib stream: %v", err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello, world" {
		t.Fatalf("got %q", got)
	}
}

func TestGzipFilterRoundTrips(t *testing.T) {
	f := NewGzipFilter(0)
	var out []byte
	chunk, err := f.Data([]byte("hello, world"))
	if err != nil {
		t.Fatal(err)
	}
	out = append(out, chunk...)
	tail, err := f.End()
	if err != nil {
		t.Fatal(err)
	}
	out = append(out, tail...)

	gr, err := gzip.NewReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("not a valid gzip stream: %v", err)
	}
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello, world" {
		t.Fatalf("got %q", got)
	}
}

func TestChainReplacesTrailingStandardFilter(t *testing.T) {
	c := NewChain()
	c.Add(NewDeflateFilter())
	c.Add(NewGzipFilter(0))
	h := http.Header{}
	c.ApplyHeaders(h)
	got := h.Values("Content-Encoding")
	if len(got) != 1 || got[0] != "gzip" {
		t.Fatalf("expected only gzip to remain, got %v", got)
	}
}
