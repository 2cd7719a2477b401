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

package httpserver

import (
	"errors"
	"io"
)

var errHijackAfterHeaders = errors.New("httpserver: Hijack after response headers sent")

// HijackedConn is the raw byte stream handed to a protocol codec (the
// WebSocket frame reader) once a handler decides the connection is no
// longer speaking HTTP. Reads are fed by the transport's inbound bytes
// (delivered through the owning Client's Feed); writes bypass the
// response machinery entirely and go straight to the transport.
type HijackedConn struct {
	pr    *io.PipeReader
	pw    *io.PipeWriter
	write func(p []byte) (int, error)
	close func() error
}

func (h *HijackedConn) Read(p []byte) (int, error)  { return h.pr.Read(p) }
func (h *HijackedConn) Write(p []byte) (int, error) { return h.write(p) }

// Close tears the whole connection down: the read side unblocks with
// io.EOF and the underlying transport is closed.
func (h *HijackedConn) Close() error {
	h.pw.Close()
	if h.close != nil {
		return h.close()
	}
	return nil
}

// Hijack detaches the client from HTTP processing: no response headers
// will be assembled, the keep-alive bookkeeping stops, and every byte
// subsequently delivered via Feed is routed to the returned
// HijackedConn's read side instead of the request state machine. Used
// for protocol upgrades (WebSocket), where the 101 response and all
// framing beyond it belong to the new protocol's codec. Hijack may only
// be called before any response bytes have been written.
func (c *Client) Hijack() (*HijackedConn, error) {
	if c.resp != nil && c.resp.headerSent {
		return nil, errHijackAfterHeaders
	}
	pr, pw := io.Pipe()
	h := &HijackedConn{
		pr:    pr,
		pw:    pw,
		write: c.OnWrite,
	}
	if c.transport != nil {
		h.close = c.transport.Close
	}
	c.hijacked = h
	c.state = stateUpgraded
	c.connectionMode = ConnectionClose
	return h, nil
}
