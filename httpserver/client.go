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
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caddyserver/httpcore/internal/bodyreader"
	"github.com/caddyserver/httpcore/internal/encode"
	"github.com/caddyserver/httpcore/internal/httpparse"
	"github.com/caddyserver/httpcore/internal/httpwrite"
	"github.com/caddyserver/httpcore/internal/metrics"
	"github.com/caddyserver/httpcore/internal/tempbuffer"
)

// clientState is the Client's position in the state machine:
// ReadingHeaders -> Dispatched -> (BufferingBody|StreamingBody)
// -> WritingResponse -> Closed, with Upgraded replacing the later
// states once a handler hijacks the connection.
type clientState int

const (
	stateReadingHeaders clientState = iota
	stateBufferingBody
	stateStreamingBody
	stateDispatched
	stateWritingResponse
	stateUpgraded
	stateClosed
)

// MaxHeaderLineLength bounds a single request-line or header line
// before the Client gives up and fails the request as malformed.
const MaxHeaderLineLength = 4096

// ClientConfig is the subset of server-wide configuration a Client
// needs to make per-request decisions.
type ClientConfig struct {
	FQDN        string
	MaxRequests int
	ErrorRouter Router // optional fallback router for synthesized error responses
}

// Client is the per-request HTTP state machine layered on a Transport.
// One Client exists per in-flight request; pipelining
// is not supported, so a transport creates a new Client
// only after the previous one reaches stateClosed.
type Client struct {
	transport Transport
	router    Router
	config    ClientConfig
	logger    *zap.Logger

	secure bool

	state       clientState
	headerBuf   []byte
	req         *Request
	resp        *Response
	requestLine struct {
		verb    Verb
		rawPath string
		version Version
	}

	transferMode   TransferMode
	connectionMode ConnectionMode

	bodyBuffer *tempbuffer.Buffer
	bodyReader bodyreader.Reader
	streamPost bool
	slot       *SlotInfo

	filters    *encode.Chain
	pipeDevice io.Reader
	pipeMaxLen int64
	pipedFromPostBody bool
	slotMaxBody int64
	hijacked   *HijackedConn

	// OnBodyChunk, if set and StreamPostBody is requested by the
	// chosen slot, is invoked once per arriving body chunk instead of
	// buffering the whole body.
	OnBodyChunk func(p []byte)

	// OnBodyComplete, if set, is invoked exactly once when the full
	// request body has been received.
	OnBodyComplete func()

	// OnWrite is how the Client emits bytes to its Transport. Tests
	// that don't want a real Transport can set this directly; NewClient
	// wires it to transport.SendToRemote by default.
	OnWrite func(p []byte) (int, error)

	closed     bool
	killedEarly bool

	// requestID is a per-Client trace identifier attached to every log
	// line this Client emits, so a single request's log lines can be
	// grep'd out of an otherwise interleaved multi-connection log.
	requestID string
}

// NewClient constructs a Client bound to transport and router. secure
// reports whether the underlying transport is already TLS (or a
// FastCGI front-end already terminated TLS).
func NewClient(transport Transport, router Router, config ClientConfig, logger *zap.Logger, secure bool) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		transport: transport,
		router:    router,
		config:    config,
		logger:    logger,
		secure:    secure,
		state:     stateReadingHeaders,
		filters:   encode.NewChain(),
		requestID: uuid.NewString(),
	}
	if transport != nil {
		c.OnWrite = transport.SendToRemote
	}
	return c
}

// Request returns the parsed request, valid once headers are complete.
func (c *Client) Request() *Request { return c.req }

// Response returns the mutable response state.
func (c *Client) Response() *Response { return c.resp }

// Secure reports whether this connection is confidentiality-protected.
func (c *Client) Secure() bool { return c.secure }

// Closed reports whether the client has finished.
func (c *Client) Closed() bool { return c.state == stateClosed }

// Filters exposes the outbound filter chain so handlers/middleware can
// install Deflate/Gzip/custom filters before the first Write.
func (c *Client) Filters() *encode.Chain { return c.filters }

func (c *Client) write(p []byte) error {
	if c.OnWrite == nil {
		return nil
	}
	_, err := c.OnWrite(p)
	return err
}

// Feed delivers newly-arrived bytes from the transport into the state
// machine, advancing it as far as the data allows.
func (c *Client) Feed(p []byte) error {
	switch c.state {
	case stateReadingHeaders:
		return c.feedHeaders(p)
	case stateBufferingBody, stateStreamingBody:
		return c.feedBody(p)
	case stateUpgraded:
		_, err := c.hijacked.pw.Write(p)
		return err
	default:
		return nil
	}
}

// ---- header phase ----

func (c *Client) feedHeaders(p []byte) error {
	c.headerBuf = append(c.headerBuf, p...)
	for {
		idx := bytes.IndexByte(c.headerBuf, '\n')
		if idx < 0 {
			if len(c.headerBuf) > MaxHeaderLineLength {
				return c.badRequest("header line too long")
			}
			return nil
		}
		lineRaw := c.headerBuf[:idx+1]
		c.headerBuf = c.headerBuf[idx+1:]
		line, ok := httpparse.StripTrailingNewline(lineRaw)
		if !ok {
			return c.badRequest("malformed line terminator")
		}
		if len(line) > MaxHeaderLineLength {
			return c.badRequest("header line too long")
		}
		if c.req == nil {
			if err := c.handleRequestLine(string(line)); err != nil {
				return err
			}
			continue
		}
		if len(line) == 0 {
			if err := c.handleHeadersComplete(); err != nil {
				return err
			}
			// Any bytes already read past the blank line (the body,
			// arrived in the same chunk as the header block) are
			// still sitting in headerBuf; the state machine has moved
			// on to a body state by now, so hand them to feedBody
			// instead of letting them sit unread.
			leftover := c.headerBuf
			c.headerBuf = nil
			if len(leftover) == 0 {
				return nil
			}
			switch c.state {
			case stateBufferingBody, stateStreamingBody:
				return c.feedBody(leftover)
			case stateUpgraded:
				_, err := c.hijacked.pw.Write(leftover)
				return err
			default:
				return nil
			}
		}
		if err := c.handleHeaderLine(string(line)); err != nil {
			return err
		}
	}
}

func (c *Client) handleRequestLine(line string) error {
	verb, rawPath, version, ok := httpparse.ParseRequestLine(line)
	if !ok {
		return c.badRequest("malformed request line")
	}
	c.requestLine.verb = verb
	c.requestLine.rawPath = rawPath
	c.requestLine.version = version
	c.req = &Request{
		Verb:           verb,
		Version:        version,
		Header:         Header{},
		Cookies:        map[string]string{},
		PostBodyLength: -1,
	}
	return nil
}

func (c *Client) handleHeaderLine(line string) error {
	name, value, ok := httpparse.ParseHeaderLine(line)
	if !ok {
		return c.badRequest("malformed header line")
	}
	key := httpparse.CanonicalizeHeaderKeyString(name)
	c.req.Header[key] = append(c.req.Header[key], value)
	if key == "Cookie" {
		for _, ck := range httpparse.ParseCookies(value) {
			c.req.Cookies[ck.Name] = ck.Value
		}
	}
	return nil
}

func (c *Client) handleHeadersComplete() error {
	req := c.req
	if req.Verb == Invalid {
		return c.badRequest("unrecognized verb")
	}
	if req.Version == Version11 && req.Header.Get("Host") == "" {
		return c.badRequest("missing Host header on HTTP/1.1 request")
	}

	switch req.Verb {
	case POST, PUT:
		cl := req.Header.Get("Content-Length")
		if cl == "" {
			return c.badRequest("missing Content-Length")
		}
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return c.badRequest("invalid Content-Length")
		}
		req.PostBodyLength = n
	case GET, HEAD, DELETE:
		if req.Header.Has("Content-Length") && req.Header.Get("Content-Length") != "0" {
			return c.badRequest("body not allowed on this verb")
		}
	}

	if rng := req.Header.Get("Range"); rng != "" {
		if start, end, ok := httpparse.ParseRange(rng); ok {
			c.resp = NewResponse()
			c.resp.RangeStart = start
			c.resp.RangeEnd = end
		}
	}
	if c.resp == nil {
		c.resp = NewResponse()
	}

	req.URL = c.buildURL(c.requestLine.rawPath)

	return c.dispatch()
}

// buildURL constructs a fully-qualified URL using the Host header if
// present, else the server's FQDN alone; no port is added to the FQDN,
// whatever port the connection arrived on.
func (c *Client) buildURL(rawPath string) *url.URL {
	host := c.req.Header.Get("Host")
	if host == "" {
		host = c.config.FQDN
	}
	scheme := "http"
	if c.secure {
		scheme = "https"
	}
	full := scheme + "://" + host + rawPath
	u, err := url.Parse(full)
	if err != nil {
		u = &url.URL{Scheme: scheme, Host: host, Path: rawPath}
	}
	return u
}

func (c *Client) badRequest(reason string) error {
	c.logger.Debug("bad request", zap.String("reason", reason))
	c.connectionMode = ConnectionClose
	c.respondMinimal(400, "")
	return c.Close()
}

// ---- dispatch ----

func (c *Client) dispatch() error {
	if strings.EqualFold(c.req.Header.Get("Expect"), "100-continue") {
		if err := c.write([]byte("HTTP/1.1 100 Continue\r\n\r\n")); err != nil {
			return err
		}
	}

	if c.transport != nil {
		c.transport.NoteRequestStarting()
	}
	reqCount := c.requestCountHint()
	c.transferMode = httpparse.DecideTransferMode(c.req.Version, c.req.Header.Get("Connection"))
	maxReq := c.config.MaxRequests
	forceClose := c.transferMode == Streaming
	c.connectionMode = ConnectionKeepAlive
	if forceClose || (maxReq > 0 && reqCount >= maxReq) {
		c.connectionMode = ConnectionClose
	}

	c.state = stateDispatched

	parts := splitPath(c.req.URL.Path)
	var answered bool
	if c.router != nil {
		answered = c.router.InvokePath(c, parts)
	}
	if !answered && !c.resp.headerSent {
		c.respondMinimal(404, "")
		return c.Close()
	}
	if c.req.PostBodyLength > 0 && c.bodyReader == nil && c.bodyBuffer == nil && !c.streamPost {
		// A handler ran without requesting the body; still drain the
		// body bytes that follow so the wire stays in sync. Buffer
		// them (bounded by DefaultMaxBodyLength) and discard.
		c.ExpectBufferedBody(DefaultMaxBodyLength)
	}
	return nil
}

// requestCountHint reports how many requests the underlying transport
// has completed so far.
func (c *Client) requestCountHint() int {
	if c.transport == nil {
		return 0
	}
	return c.transport.RequestCount()
}

func splitPath(p string) []string {
	segments := strings.Split(p, "/")
	out := segments[:0]
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ---- body phase ----

// ExpectBufferedBody tells the Client to buffer the incoming body into
// a TemporaryBuffer up to maxLen bytes, invoking OnBodyComplete (if
// set) once fully received.
func (c *Client) ExpectBufferedBody(maxLen int64) {
	if c.req.PostBodyLength < 0 {
		return
	}
	c.bodyBuffer = tempbuffer.New(tempbuffer.DefaultThreshold)
	c.slotMaxBody = maxLen
	if c.req.PostBodyLength == 0 {
		return
	}
	c.state = stateBufferingBody
}

// ExpectStreamingBody switches to per-chunk delivery via OnBodyChunk
// instead of buffering the whole request body.
func (c *Client) ExpectStreamingBody() {
	c.streamPost = true
	if c.req.PostBodyLength != 0 {
		c.state = stateStreamingBody
	}
}

// ExpectParsedBody installs a multipart or urlencoded bodyreader.Reader
// that the incoming bytes are fed through instead of a raw buffer.
func (c *Client) ExpectParsedBody(r bodyreader.Reader) {
	c.bodyReader = r
	if c.req.PostBodyLength != 0 {
		c.state = stateStreamingBody
	}
}

func (c *Client) feedBody(p []byte) error {
	remaining := c.req.PostBodyLength - c.req.BodyTransferred
	chunk := p
	if int64(len(chunk)) > remaining {
		// More bytes than announced: 413 and close.
		c.req.BodyTransferred += remaining
		c.connectionMode = ConnectionClose
		c.respondMinimal(413, "")
		return c.Close()
	}
	c.req.BodyTransferred += int64(len(chunk))

	switch {
	case c.streamPost:
		if c.OnBodyChunk != nil {
			c.OnBodyChunk(chunk)
		}
	case c.bodyReader != nil:
		if err := c.bodyReader.Write(chunk); err != nil {
			c.respondMinimal(400, "")
			return c.Close()
		}
	case c.bodyBuffer != nil:
		if _, err := c.bodyBuffer.Write(chunk); err != nil {
			return err
		}
		if c.bodyBuffer.Size() > c.slotMaxBody {
			c.connectionMode = ConnectionClose
			c.respondMinimal(413, "")
			return c.Close()
		}
	}

	if c.req.BodyTransferred == c.req.PostBodyLength {
		c.onBodyComplete()
	}
	return nil
}

func (c *Client) onBodyComplete() {
	if closer, ok := c.bodyReader.(interface{ Close() error }); ok {
		closer.Close()
	}
	if c.bodyBuffer != nil {
		c.bodyBuffer.Seek(0, io.SeekStart)
	}
	if c.OnBodyComplete != nil {
		c.OnBodyComplete()
	}
}

// BodyBuffer exposes the buffered body once complete (nil otherwise).
func (c *Client) BodyBuffer() *tempbuffer.Buffer { return c.bodyBuffer }

// BodyReader exposes the installed multipart/urlencoded parser, if any.
func (c *Client) BodyReader() bodyreader.Reader { return c.bodyReader }

// ---- response phase ----

// WriteHeader sends the status line and headers if not already sent.
// Called implicitly by the first Write.
func (c *Client) WriteHeader() error {
	if c.resp.headerSent {
		return nil
	}
	c.resp.headerSent = true
	c.state = stateWritingResponse

	c.filters.ApplyHeaders(http.Header(c.resp.Header))

	versionStr := "1.0"
	if c.req != nil && c.req.Version == Version11 {
		versionStr = "1.1"
	}
	var buf bytes.Buffer
	buf.WriteString(httpwrite.StatusLine(versionStr, c.resp.StatusCode, c.resp.StatusMessage))

	if httpwrite.NeedsDateHeader(versionStr == "1.1", c.resp.Header.Has("Date")) {
		buf.WriteString(httpwrite.HeaderLine("Date", httpwrite.DateHeader(nowFunc())))
	}

	if c.resp.RangeStart >= 0 && c.resp.RangeEnd >= 0 && !c.resp.Header.Has("Content-Range") {
		buf.WriteString(httpwrite.HeaderLine("Content-Range", httpwrite.ContentRangeHeader(c.resp.RangeStart, c.resp.RangeEnd, c.resp.ContentLength)))
		buf.WriteString(httpwrite.HeaderLine("Content-Length", strconv.FormatInt(c.resp.RangeEnd-c.resp.RangeStart, 10)))
	} else if c.resp.ContentLength >= 0 && !c.resp.Header.Has("Content-Length") {
		buf.WriteString(httpwrite.HeaderLine("Content-Length", strconv.FormatInt(c.resp.ContentLength, 10)))
	}

	if te, set := httpwrite.TransferEncodingValue(c.resp.Header.Get("Transfer-Encoding"), c.transferMode == ChunkedStreaming); set {
		buf.WriteString(httpwrite.HeaderLine("Transfer-Encoding", te))
	}

	count := c.requestCountHint() + 1
	connValue := httpwrite.ConnectionValue(count, c.config.MaxRequests, c.connectionMode == ConnectionClose)
	if connValue == "close" {
		c.connectionMode = ConnectionClose
	}
	buf.WriteString(httpwrite.HeaderLine("Connection", connValue))

	for name, values := range c.resp.Header {
		for _, v := range values {
			buf.WriteString(httpwrite.HeaderLine(name, v))
		}
	}
	for _, ck := range c.resp.Cookies {
		buf.WriteString(httpwrite.HeaderLine("Set-Cookie", httpwrite.SetCookieLine(httpwrite.Cookie{
			Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path,
			Expires: ck.Expires, MaxAge: ck.MaxAge, HasMaxAge: ck.HasMaxAge,
			Secure: ck.Secure, HTTPOnly: ck.HTTPOnly,
		})))
	}
	buf.WriteString("\r\n")
	buf.Write(c.filters.Begin())
	return c.write(buf.Bytes())
}

// Write sends payload bytes through the filter chain and, if chunked
// framing is in effect, the chunk-length wrapper.
func (c *Client) Write(p []byte) (int, error) {
	if c.pipeDevice != nil {
		return 0, fmt.Errorf("httpserver: direct write after pipe installed")
	}
	return c.writeBody(p)
}

// writeBody is Write without the pipe mutual-exclusion guard, used by
// PipeToClient's own drain loop.
func (c *Client) writeBody(p []byte) (int, error) {
	if err := c.WriteHeader(); err != nil {
		return 0, err
	}
	out, err := c.filters.Data(p)
	if err != nil {
		return 0, err
	}
	if err := c.writeFramed(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Client) writeFramed(p []byte) error {
	if c.transferMode != ChunkedStreaming {
		if len(p) == 0 {
			return nil
		}
		return c.write(p)
	}
	if len(p) == 0 {
		return nil
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%x\r\n", len(p))
	buf.Write(p)
	buf.WriteString("\r\n")
	return c.write(buf.Bytes())
}

// Close flushes filter-end bytes, the chunk terminator if chunked, and
// then either closes or re-arms keep-alive on the transport.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	if c.resp == nil {
		// torn down before headers completed (peer abort, multiplexer
		// shutdown); nothing on the wire to finish.
		c.closed = true
		c.state = stateClosed
		if c.transport != nil {
			return c.transport.Close()
		}
		return nil
	}
	if !c.resp.headerSent && !c.killedEarly {
		if err := c.WriteHeader(); err != nil {
			return err
		}
	}
	if c.resp.headerSent {
		tail, err := c.filters.End()
		if err != nil {
			return err
		}
		if len(tail) > 0 {
			if err := c.writeFramed(tail); err != nil {
				return err
			}
		}
		if c.transferMode == ChunkedStreaming {
			if err := c.write([]byte("0\r\n\r\n")); err != nil {
				return err
			}
		}
	}
	c.closed = true
	c.state = stateClosed
	if c.req != nil {
		method := metrics.SanitizeMethod(c.req.Verb.String())
		code := metrics.SanitizeCode(c.resp.StatusCode)
		metrics.RequestCount.WithLabelValues(method, code).Inc()
		if c.logger != nil {
			c.logger.Info("request",
				zap.String("request_id", c.requestID),
				zap.String("method", method),
				zap.String("status", code),
				zap.Int64("bytes_out", c.resp.ContentLength),
			)
		}
	}
	if c.transport != nil {
		c.transport.NoteRequestComplete()
	}
	if c.connectionMode == ConnectionClose && c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

// KillConnection aborts the in-flight request before any response
// bytes have gone out. It clears any pending pipe, serves a minimal
// (or error-node) body, and closes.
func (c *Client) KillConnection(code int, cause string) error {
	if c.resp.headerSent {
		return fmt.Errorf("httpserver: KillConnection after headers sent")
	}
	c.pipeDevice = nil
	c.killedEarly = true
	if c.logger != nil && cause != "" {
		c.logger.Debug("connection killed", zap.Int("code", code), zap.String("cause", cause))
	}
	if c.config.ErrorRouter != nil {
		parts := []string{strconv.Itoa(code)}
		if c.config.ErrorRouter.InvokePath(c, parts) {
			c.connectionMode = ConnectionClose
			return c.Close()
		}
	}
	c.respondMinimal(code, cause)
	c.connectionMode = ConnectionClose
	return c.Close()
}

func (c *Client) respondMinimal(code int, body string) {
	// A malformed request can be rejected before headers completed, in
	// which case no Response has been allocated yet.
	if c.resp == nil {
		c.resp = NewResponse()
	}
	c.resp.StatusCode = code
	if body == "" {
		body = httpwrite.StatusText(code)
	}
	c.resp.ContentLength = int64(len(body))
	c.Write([]byte(body))
}

// PipeToClient streams device to the client as the response body. It
// reads up to 16 KiB per tick; a random-access device (io.Seeker) with
// an empty filter chain gets a Content-Length computed from its size,
// otherwise chunked-or-streaming framing is used depending on
// keep-alive eligibility.
func (c *Client) PipeToClient(device io.Reader, maxLen int64) error {
	c.pipeDevice = device
	c.pipeMaxLen = maxLen

	if seeker, ok := device.(io.Seeker); ok && c.filters.Empty() {
		if cur, err := seeker.Seek(0, io.SeekCurrent); err == nil {
			if end, err := seeker.Seek(0, io.SeekEnd); err == nil {
				seeker.Seek(cur, io.SeekStart)
				size := end - cur
				if maxLen >= 0 && size > maxLen {
					size = maxLen
				}
				if c.resp.ContentLength < 0 {
					c.resp.ContentLength = size
				}
			}
		}
	}
	if c.connectionMode == ConnectionKeepAlive && !c.filters.Empty() {
		c.transferMode = ChunkedStreaming
	} else {
		c.transferMode = Streaming
		c.connectionMode = ConnectionClose
	}

	const tick = 16 * 1024
	buf := make([]byte, tick)
	var total int64
	for {
		n := tick
		if maxLen >= 0 {
			remaining := maxLen - total
			if remaining <= 0 {
				break
			}
			if int64(n) > remaining {
				n = int(remaining)
			}
		}
		read, err := device.Read(buf[:n])
		if read > 0 {
			if _, werr := c.writeBody(buf[:read]); werr != nil {
				return werr
			}
			total += int64(read)
		}
		if err != nil {
			break
		}
	}
	if closer, ok := device.(io.Closer); ok {
		closer.Close()
	}
	c.pipeDevice = nil
	return c.Close()
}

// PipeFromPostBody redirects incoming body bytes into sink, copying
// already-buffered bytes first.
func (c *Client) PipeFromPostBody(sink io.Writer) error {
	c.pipedFromPostBody = true
	if c.bodyBuffer != nil {
		buffered, err := c.bodyBuffer.ReadAll()
		if err != nil {
			return err
		}
		if _, err := sink.Write(buffered); err != nil {
			return err
		}
	}
	c.streamPost = true
	c.OnBodyChunk = func(p []byte) { sink.Write(p) }
	return nil
}

// nowFunc is overridable in tests that need a deterministic Date header.
var nowFunc = defaultNow
