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

package fastcgi

import (
	"bytes"
	"sync"
)

// requestTransport is the logical httpserver.Transport for one FastCGI
// requestId, multiplexed with any number of others over a single
// underlying socket owned by the Multiplexer. It rewrites
// the first HTTP status line into CGI's "Status:" convention and frames
// every outbound write as StdOut records, finishing with the empty
// StdOut + EndRequest sequence on Close.
type requestTransport struct {
	mux       *Multiplexer
	requestID uint16
	keepConn  bool

	remoteAddr string
	localAddr  string
	secure     bool

	mu           sync.Mutex
	wroteHeader  bool
	closed       bool
	requestCount int
}

// newRequestTransport allocates the transport at BeginRequest time;
// its address/secure fields are filled in once Params accumulation
// completes (see Multiplexer.finishParams), since none of that is
// known until then.
func newRequestTransport(mux *Multiplexer, requestID uint16, keepConn bool) *requestTransport {
	return &requestTransport{
		mux:       mux,
		requestID: requestID,
		keepConn:  keepConn,
	}
}

// SendToRemote implements httpserver.Transport: the first call per
// request carries the full status-line-plus-headers block, so that's
// the only call that needs the CGI status-line rewrite.
func (t *requestTransport) SendToRemote(p []byte) (int, error) {
	t.mu.Lock()
	first := !t.wroteHeader
	t.wroteHeader = true
	t.mu.Unlock()

	out := p
	if first {
		out = rewriteStatusLine(p)
	}
	if err := t.mux.writeStdOut(t.requestID, out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// rewriteStatusLine turns a leading "HTTP/x.y CODE MSG\r\n" into
// "Status: CODE MSG\r\n", leaving everything after the first CRLF
// untouched. If p doesn't start with "HTTP/", it's returned unchanged
// (a pipelined write after the first header block, or a malformed
// prefix some handler bypassed WriteHeader to produce).
func rewriteStatusLine(p []byte) []byte {
	if !bytes.HasPrefix(p, []byte("HTTP/")) {
		return p
	}
	idx := bytes.IndexByte(p, '\n')
	if idx < 0 {
		return p
	}
	line := p[:idx+1] // includes trailing \r\n
	rest := p[idx+1:]

	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return p
	}
	tail := bytes.TrimRight(line[sp+1:], "\r\n")

	var out bytes.Buffer
	out.WriteString("Status: ")
	out.Write(tail)
	out.WriteString("\r\n")
	out.Write(rest)
	return out.Bytes()
}

// Close finishes the logical request: an empty StdOut record (the
// stream terminator) followed by EndRequest{appStatus=0,
// RequestComplete}. If the front end didn't set KEEP_CONN on
// BeginRequest, the whole socket is torn down once this request is
// the last one outstanding.
func (t *requestTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.mux.writeStdOut(t.requestID, nil); err != nil {
		return err
	}
	if err := t.mux.writeEndRequest(t.requestID); err != nil {
		return err
	}
	t.mux.requestFinished(t.requestID, t.keepConn)
	return nil
}

func (t *requestTransport) RemoteAddr() string { return t.remoteAddr }
func (t *requestTransport) LocalAddr() string  { return t.localAddr }
func (t *requestTransport) Secure() bool       { return t.secure }

func (t *requestTransport) RequestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestCount
}

// MaxRequests is always 1: each FastCGI logical request gets its own
// transport and is torn down at EndRequest, so there is no keep-alive
// concept at this layer (the underlying socket's multiplexing is a
// separate, connection-level concern the Multiplexer owns).
func (t *requestTransport) MaxRequests() int { return 1 }

func (t *requestTransport) NoteRequestStarting() {}

func (t *requestTransport) NoteRequestComplete() {
	t.mu.Lock()
	t.requestCount++
	t.mu.Unlock()
}

// requestLineFromParams derives the verb/path/version triad
// httpserver.Client needs directly from the just-completed Params:
// verb from REQUEST_METHOD, path from REQUEST_URI, version from
// SERVER_PROTOCOL.
func requestLineFromParams(params map[string]string) (method, uri, version string) {
	method = params["REQUEST_METHOD"]
	uri = params["REQUEST_URI"]
	version = params["SERVER_PROTOCOL"]
	return
}
