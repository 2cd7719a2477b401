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

// Package httpserver is the per-connection HTTP engine: the request
// and response data model, the Client request/response state machine,
// the transport abstraction it runs on top of, and the backend/server
// that accepts connections and distributes them to worker goroutines.
package httpserver

import (
	"net/url"
	"time"

	"github.com/caddyserver/httpcore/internal/httpparse"
)

// Verb, Version and TransferMode are re-exported from internal/httpparse
// so callers of this package never need to import the internal parser
// package directly.
type (
	Verb         = httpparse.Verb
	Version      = httpparse.Version
	TransferMode = httpparse.TransferMode
)

const (
	Invalid = httpparse.Invalid
	GET     = httpparse.GET
	HEAD    = httpparse.HEAD
	POST    = httpparse.POST
	PUT     = httpparse.PUT
	DELETE  = httpparse.DELETE

	VersionUnknown = httpparse.VersionUnknown
	Version10      = httpparse.Version10
	Version11      = httpparse.Version11

	Streaming        = httpparse.Streaming
	Buffered         = httpparse.Buffered
	ChunkedStreaming = httpparse.ChunkedStreaming
)

// ConnectionMode is the transport-level keep-alive decision.
type ConnectionMode int

const (
	ConnectionKeepAlive ConnectionMode = iota
	ConnectionClose
)

// Header is a case-normalized multimap: keys are always stored and
// looked up in their canonical form (CanonicalizeHeaderKey), so lookups
// never need case-insensitive comparisons.
type Header map[string][]string

// Set replaces all values for name (canonicalized) with value.
func (h Header) Set(name, value string) {
	h[httpparse.CanonicalizeHeaderKeyString(name)] = []string{value}
}

// Add appends value to any existing values for name.
func (h Header) Add(name, value string) {
	key := httpparse.CanonicalizeHeaderKeyString(name)
	h[key] = append(h[key], value)
}

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	vs := h[httpparse.CanonicalizeHeaderKeyString(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Has reports whether name has at least one value.
func (h Header) Has(name string) bool {
	return len(h[httpparse.CanonicalizeHeaderKeyString(name)]) > 0
}

// Del removes all values for name.
func (h Header) Del(name string) {
	delete(h, httpparse.CanonicalizeHeaderKeyString(name))
}

// Cookie is a single cookie, either as received on a request or as
// scheduled for output on a response.
type Cookie struct {
	Name      string
	Value     string
	Expires   time.Time
	MaxAge    int64
	HasMaxAge bool
	Domain    string
	Path      string
	Secure    bool
	HTTPOnly  bool
}

// Request is the decoded form of an inbound request line, headers, and
// cookies. PostBodyLength is -1 when the request has no
// body.
type Request struct {
	Verb           Verb
	Version        Version
	URL            *url.URL
	Header         Header
	Cookies        map[string]string
	PostBodyLength int64
	BodyTransferred int64
}

// Response is the mutable per-request response state.
// RangeStart/RangeEnd/ContentLength default to -1, meaning "unset".
type Response struct {
	StatusCode    int
	StatusMessage string
	Header        Header
	Cookies       map[string]Cookie
	ContentLength int64
	RangeStart    int64
	RangeEnd      int64

	headerSent bool
}

// NewResponse returns a Response pre-populated with defaults:
// status 200, no content-length, no range.
func NewResponse() *Response {
	return &Response{
		StatusCode:    200,
		Header:        Header{},
		Cookies:       map[string]Cookie{},
		ContentLength: -1,
		RangeStart:    -1,
		RangeEnd:      -1,
	}
}

// HeaderSent reports whether response headers have already gone out;
// once true, status/header/cookie/length/range fields are immutable.
func (r *Response) HeaderSent() bool { return r.headerSent }

// SlotInfo is a routing handler descriptor.
type SlotInfo struct {
	Name            string
	AllowedVerbs    map[Verb]bool
	MaxBodyLength   int64
	StreamPostBody  bool
	ForceEncrypted  bool
	Handler         HandlerFunc
}

// DefaultMaxBodyLength is the per-slot body-size ceiling unless a slot
// overrides it.
const DefaultMaxBodyLength = 4 * 1024 * 1024

// HandlerFunc is the application-level callback a SlotInfo invokes.
// Handlers run on the Client's worker goroutine; they must not block
// on anything other than the Client's own APIs.
type HandlerFunc func(c *Client)
