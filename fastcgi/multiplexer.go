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
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/caddyserver/httpcore/httpserver"
)

// Config carries the per-socket values the demultiplexer needs that
// aren't part of any individual record: routing, the values a
// GetValues management record can ask for, and an error-node router
// shared with every logical Client.
type Config struct {
	Router      httpserver.Router
	ErrorRouter httpserver.Router
	FQDN        string

	MaxConns    int
	MaxRequests int
	Logger      *zap.Logger
}

// Multiplexer demultiplexes one FastCGI socket into a logical
// httpserver.Client per requestId. Exactly one Multiplexer owns a
// given conn; Run blocks the calling goroutine for the connection's
// lifetime.
type Multiplexer struct {
	conn   net.Conn
	cfg    Config
	logger *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	requests map[uint16]*pendingRequest
}

// pendingRequest tracks one logical request's accumulation state from
// BeginRequest through to a fully constructed Client.
type pendingRequest struct {
	transport *requestTransport
	keepConn  bool
	params    map[string]string
	client    *httpserver.Client
}

// NewMultiplexer wraps conn. cfg.Router is installed on every logical
// Client constructed from a BeginRequest/Params sequence.
func NewMultiplexer(conn net.Conn, cfg Config) *Multiplexer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Multiplexer{
		conn:     conn,
		cfg:      cfg,
		logger:   cfg.Logger,
		requests: make(map[uint16]*pendingRequest),
	}
}

// Run reads records until the connection closes or a fatal protocol
// error occurs.
func (m *Multiplexer) Run() error {
	for {
		rec, err := readRecord(m.conn)
		if err != nil {
			m.closeAll()
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := m.dispatch(rec); err != nil {
			m.logger.Debug("fastcgi record dispatch error", zap.Error(err))
		}
	}
}

func (m *Multiplexer) dispatch(rec record) error {
	switch rec.Type {
	case TypeBeginRequest:
		return m.handleBeginRequest(rec)
	case TypeParams:
		return m.handleParams(rec)
	case TypeStdIn:
		return m.handleStdIn(rec)
	case TypeAbortRequest:
		return m.handleAbort(rec)
	case TypeGetValues:
		return m.handleGetValues(rec)
	default:
		return m.replyUnknownType(rec)
	}
}

// handleBeginRequest rejects any role but Responder and otherwise
// allocates a requestTransport bound to requestId.
func (m *Multiplexer) handleBeginRequest(rec record) error {
	role, flags, err := parseBeginRequest(rec.Content)
	if err != nil {
		return err
	}
	if role != RoleResponder {
		return m.writeEndRequestStatus(rec.RequestID, UnknownRole)
	}
	keepConn := flags&KeepConnFlag != 0

	t := newRequestTransport(m, rec.RequestID, keepConn)
	m.mu.Lock()
	m.requests[rec.RequestID] = &pendingRequest{transport: t, keepConn: keepConn, params: map[string]string{}}
	m.mu.Unlock()
	return nil
}

// handleParams accumulates name/value pairs; an empty Params record
// (zero content length) signals the end of the block and triggers
// Client construction.
func (m *Multiplexer) handleParams(rec record) error {
	m.mu.Lock()
	pr, ok := m.requests[rec.RequestID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if len(rec.Content) == 0 {
		return m.finishParams(rec.RequestID, pr)
	}
	pairs, err := readNameValuePairs(rec.Content)
	if err != nil {
		return err
	}
	for k, v := range pairs {
		pr.params[k] = v
	}
	return nil
}

// finishParams builds the logical Client once Params accumulation is
// complete, by synthesizing the same HTTP/1.x header block a TCP
// transport would have received on the wire and feeding it through
// the normal Client.Feed state machine — so FastCGI and TCP requests
// are parsed by identical code past this point.
func (m *Multiplexer) finishParams(requestID uint16, pr *pendingRequest) error {
	pr.transport.remoteAddr = pr.params["REMOTE_ADDR"] + ":" + pr.params["REMOTE_PORT"]
	pr.transport.localAddr = pr.params["SERVER_ADDR"] + ":" + pr.params["SERVER_PORT"]
	pr.transport.secure = pr.params["HTTPS"] == "on" || pr.params["HTTPS"] == "1"

	method, uri, version := requestLineFromParams(pr.params)
	if version == "" {
		version = "HTTP/1.0"
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(uri)
	b.WriteByte(' ')
	b.WriteString(version)
	b.WriteString("\r\n")

	for name, value := range headersFromParams(pr.params) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	clientCfg := httpserver.ClientConfig{
		FQDN:        m.cfg.FQDN,
		MaxRequests: 1,
		ErrorRouter: m.cfg.ErrorRouter,
	}
	client := httpserver.NewClient(pr.transport, m.cfg.Router, clientCfg, m.logger, pr.transport.secure)
	pr.client = client
	return client.Feed([]byte(b.String()))
}

// headersFromParams implements canonicalization: strip
// the HTTP_ prefix, turn remaining underscores into hyphens, and
// title-case each hyphen-delimited segment ("HTTP_FOO_BAR" ->
// "Foo-Bar"); CONTENT_LENGTH/CONTENT_TYPE are CGI's two conventional
// non-HTTP_ params that still need to reach the request as headers, or
// a POST/PUT body could never be read (Content-Length is mandatory for
// those verbs in the HTTP engine's own header-completion check).
func headersFromParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch {
		case strings.HasPrefix(k, "HTTP_"):
			out[cgiNameToHeader(k[len("HTTP_"):])] = v
		case k == "CONTENT_LENGTH":
			out["Content-Length"] = v
		case k == "CONTENT_TYPE":
			out["Content-Type"] = v
		}
	}
	return out
}

func cgiNameToHeader(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// handleStdIn forwards body bytes into the client's own body pipeline.
// An empty StdIn record is the body terminator and needs no
// forwarding (Client derives completion from PostBodyLength).
func (m *Multiplexer) handleStdIn(rec record) error {
	m.mu.Lock()
	pr, ok := m.requests[rec.RequestID]
	m.mu.Unlock()
	if !ok || pr.client == nil || len(rec.Content) == 0 {
		return nil
	}
	return pr.client.Feed(rec.Content)
}

// handleAbort force-closes the named logical request.
func (m *Multiplexer) handleAbort(rec record) error {
	m.mu.Lock()
	pr, ok := m.requests[rec.RequestID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return pr.transport.Close()
}

// handleGetValues answers with FCGI_MPXS_CONNS (always "1": this
// demultiplexer supports multiple concurrent requests per connection),
// plus MAX_CONNS/MAX_REQS from configuration.
func (m *Multiplexer) handleGetValues(rec record) error {
	requested, err := readNameValuePairs(rec.Content)
	if err != nil {
		return err
	}
	values := map[string]string{
		"FCGI_MPXS_CONNS": "1",
	}
	if m.cfg.MaxConns > 0 {
		values["FCGI_MAX_CONNS"] = strconv.Itoa(m.cfg.MaxConns)
	}
	if m.cfg.MaxRequests > 0 {
		values["FCGI_MAX_REQS"] = strconv.Itoa(m.cfg.MaxRequests)
	}
	reply := make(map[string]string, len(requested))
	for k := range requested {
		if v, ok := values[k]; ok {
			reply[k] = v
		}
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return writeRecord(m.conn, TypeGetValuesResult, rec.RequestID, writeNameValuePairs(reply))
}

func (m *Multiplexer) replyUnknownType(rec record) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return writeRecord(m.conn, TypeUnknownType, rec.RequestID, []byte{byte(rec.Type), 0, 0, 0, 0, 0, 0, 0})
}

// writeStdOut and writeEndRequest are the per-request transport's
// entry points into the shared, mutex-guarded socket writer.
func (m *Multiplexer) writeStdOut(requestID uint16, payload []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return writeStream(m.conn, TypeStdOut, requestID, payload)
}

func (m *Multiplexer) writeEndRequest(requestID uint16) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return writeRecord(m.conn, TypeEndRequest, requestID, encodeEndRequest(0, RequestComplete))
}

func (m *Multiplexer) writeEndRequestStatus(requestID uint16, status ProtocolStatus) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return writeRecord(m.conn, TypeEndRequest, requestID, encodeEndRequest(0, status))
}

// requestFinished removes requestID from the in-flight set and, if the
// finishing request did not ask for KEEP_CONN, tears the connection
// down once it's the last one outstanding.
func (m *Multiplexer) requestFinished(requestID uint16, keepConn bool) {
	m.mu.Lock()
	delete(m.requests, requestID)
	remaining := len(m.requests)
	m.mu.Unlock()
	if !keepConn && remaining == 0 {
		m.conn.Close()
	}
}

func (m *Multiplexer) closeAll() {
	m.mu.Lock()
	ids := make([]uint16, 0, len(m.requests))
	for id := range m.requests {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.mu.Lock()
		pr := m.requests[id]
		m.mu.Unlock()
		if pr != nil && pr.client != nil {
			pr.client.Close()
		}
	}
}
