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

// Package encode implements the outbound filter chain:
// stateless-per-response byte/header transforms applied to a response
// body before it reaches the transfer-encoder. The two built-ins,
// Deflate and Gzip, are backed by klauspost/compress rather than the
// standard library's compress/flate and compress/gzip.
package encode

import "net/http"

// Filter is the four-hook contract every outbound transform implements.
type Filter interface {
	// Name, if non-empty, is appended to the Content-Encoding header.
	Name() string
	// Headers lets the filter adjust response headers before they are
	// sent (e.g. removing Content-Length, since compressed length is
	// not known up front).
	Headers(h http.Header)
	// Begin returns any bytes that must precede the first data chunk.
	Begin() []byte
	// Data transforms one chunk of outbound payload.
	Data(p []byte) ([]byte, error)
	// End returns any trailing bytes (footers, flush) once the body is
	// complete.
	End() ([]byte, error)
}

// Chain applies an ordered list of Filters to outbound bytes. Adding a
// standard filter (Deflate/Gzip) replaces any previously appended
// standard filter at the tail, so double-compression never happens by
// accident.
type Chain struct {
	filters []Filter
}

// NewChain returns an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

func isStandard(f Filter) bool {
	switch f.Name() {
	case "deflate", "gzip":
		return true
	default:
		return false
	}
}

// Add appends f to the chain, replacing a trailing standard filter if
// f is itself standard.
func (c *Chain) Add(f Filter) {
	if isStandard(f) && len(c.filters) > 0 && isStandard(c.filters[len(c.filters)-1]) {
		c.filters[len(c.filters)-1] = f
		return
	}
	c.filters = append(c.filters, f)
}

// Empty reports whether the chain has no filters.
func (c *Chain) Empty() bool { return len(c.filters) == 0 }

// ApplyHeaders runs every filter's Headers hook in order and sets
// Content-Encoding from the filters that named themselves.
func (c *Chain) ApplyHeaders(h http.Header) {
	var encodings []string
	for _, f := range c.filters {
		f.Headers(h)
		if name := f.Name(); name != "" {
			encodings = append(encodings, name)
		}
	}
	if len(encodings) > 0 {
		h.Del("Content-Encoding")
		for _, e := range encodings {
			h.Add("Content-Encoding", e)
		}
	}
}

// Begin concatenates every filter's begin-of-stream bytes, outermost
// filter (the one that runs on the wire last) emitting last.
func (c *Chain) Begin() []byte {
	var out []byte
	for _, f := range c.filters {
		out = append(out, f.Begin()...)
	}
	return out
}

// Data runs p through every filter in insertion order.
func (c *Chain) Data(p []byte) ([]byte, error) {
	cur := p
	for _, f := range c.filters {
		next, err := f.Data(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// End runs every filter's end-of-stream hook in order and concatenates
// the trailing bytes produced.
func (c *Chain) End() ([]byte, error) {
	var out []byte
	for _, f := range c.filters {
		tail, err := f.End()
		if err != nil {
			return out, err
		}
		out = append(out, tail...)
	}
	return out, nil
}
