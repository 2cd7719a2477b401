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
	"net"
	"sync"

	"go.uber.org/zap"
)

// TCPTransport is the concrete Transport over a plain or TLS-wrapped
// net.Conn: a single net.Conn driven by one Client at a time, re-armed
// for the next request once the previous one closes without killing
// the socket.
//
// Lifecycle: Run arms the Connect timeout and creates the first Client
// before reading. On the first byte read, the timeout switches to Data
// and the bytes are fed to that Client. Once the Client reports the request fully dispatched,
// the Data timeout is disabled; once the Client closes, either the
// socket is torn down (Connection: close) or a fresh Client is made
// and KeepAlive timeout is armed for the next request line.
type TCPTransport struct {
	*baseTransport

	conn   net.Conn
	secure bool
	logger *zap.Logger

	router Router
	config ClientConfig

	mu      sync.Mutex
	client  *Client
	closed  bool
}

// NewTCPTransport wraps conn; no timeout is armed yet. Call Run to arm
// the connect timeout and drive the read loop, normally from its own
// goroutine per connection.
func NewTCPTransport(conn net.Conn, secure bool, timeouts TimeoutConfig, maxReq int, router Router, config ClientConfig, logger *zap.Logger) *TCPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &TCPTransport{
		conn:   conn,
		secure: secure,
		logger: logger,
		router: router,
		config: config,
	}
	t.baseTransport = newBaseTransport(timeouts, maxReq, t.onTimeout)
	return t
}

// SendToRemote writes p to the socket, counting bytes for the
// traffic-total bookkeeping names.
func (t *TCPTransport) SendToRemote(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	t.noteSent(n)
	return n, err
}

// Close tears down the socket. Safe to call more than once.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.disableTimeout()
	return t.conn.Close()
}

// RemoteAddr/LocalAddr back synthetic URL construction and logging.
func (t *TCPTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }
func (t *TCPTransport) LocalAddr() string  { return t.conn.LocalAddr().String() }

// Secure reports whether this connection is already TLS-terminated.
func (t *TCPTransport) Secure() bool { return t.secure }

// NoteRequestStarting disables the Data timeout once a request has
// been fully dispatched to a handler: a slow
// handler producing a slow response must not trip the inbound data
// timeout meant to catch a stalled client.
func (t *TCPTransport) NoteRequestStarting() {
	t.disableTimeout()
}

func (t *TCPTransport) newClient() *Client {
	return NewClient(t, t.router, t.config, t.logger, t.secure)
}

// Run drives the read loop until the connection closes or a timeout
// tears it down. It blocks the calling goroutine for the connection's
// entire lifetime.
func (t *TCPTransport) Run() {
	t.startTimeout(TimeoutConnect)

	t.mu.Lock()
	t.client = t.newClient()
	t.mu.Unlock()

	buf := make([]byte, 16*1024)
	firstByte := true
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.noteReceived(n)
			if firstByte {
				firstByte = false
				t.startTimeout(TimeoutData)
			}
			t.mu.Lock()
			client := t.client
			t.mu.Unlock()
			if client != nil {
				if ferr := client.Feed(buf[:n]); ferr != nil {
					t.logger.Debug("client feed error", zap.Error(ferr))
					_ = t.Close()
					return
				}
				if client.Closed() {
					if client.connectionMode == ConnectionClose {
						_ = t.Close()
						return
					}
					t.mu.Lock()
					t.client = t.newClient()
					t.mu.Unlock()
					firstByte = true
					t.startTimeout(TimeoutKeepAlive)
				}
			}
		}
		if err != nil {
			_ = t.Close()
			return
		}
	}
}

// onTimeout is baseTransport's callback; every category here means
// "stop waiting on this connection."
func (t *TCPTransport) onTimeout(kind TimeoutKind) {
	t.logger.Debug("transport timeout", zap.Int("kind", int(kind)))
	_ = t.Close()
}
