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
	"context"
	"crypto/tls"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caddyserver/httpcore/internal/metrics"
)

// ThreadingMode selects how accepted connections are distributed to
// goroutines: the NoThreading / fixed-pool / one-per-core options
// translated to Go's goroutine-per-connection model.
type ThreadingMode int

const (
	// OneGoroutinePerConnection spawns a goroutine per accepted
	// connection (the default, and the only mode that makes sense on
	// Go's M:N scheduler; pooled-OS-thread modes collapse to
	// this since goroutines are already cheap).
	OneGoroutinePerConnection ThreadingMode = iota
	// BoundedWorkerPool hands accepted connections to a fixed-size pool
	// of worker goroutines over a channel, bounding concurrency.
	BoundedWorkerPool
)

// BackendConfig configures one listening Backend.
type BackendConfig struct {
	Address string
	TLS     *tls.Config // nil for plaintext

	Threading  ThreadingMode
	NumWorkers int // only consulted when Threading == BoundedWorkerPool

	Timeouts    TimeoutConfig
	MaxRequests int

	Router Router
	Client ClientConfig

	// AcceptsPerSecond rate-limits how often Serve's accept loop hands
	// a new connection off to a handler goroutine; zero disables
	// limiting. Excess connections block in Accept's backlog rather
	// than being dropped, so a slow limiter sheds load gracefully
	// instead of refusing sockets outright.
	AcceptsPerSecond float64
	AcceptBurst      int

	Logger *zap.Logger
}

// Backend owns one net.Listener and the goroutines accepting from it.
// A Server (below) aggregates one or more Backends, each with its own
// Router.
type Backend struct {
	cfg     BackendConfig
	ln      net.Listener
	limiter *rate.Limiter

	work chan net.Conn

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewBackend binds cfg.Address (TLS-wrapped if cfg.TLS is set) but does
// not yet accept connections; call Serve for that.
func NewBackend(cfg BackendConfig) (*Backend, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.TLS != nil {
		ln = tls.NewListener(ln, cfg.TLS)
	}
	b := &Backend{cfg: cfg, ln: ln}
	if cfg.AcceptsPerSecond > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptsPerSecond), burst)
	}
	if cfg.Threading == BoundedWorkerPool {
		n := cfg.NumWorkers
		if n <= 0 {
			n = 1
		}
		b.work = make(chan net.Conn, n*4)
	}
	return b, nil
}

// Addr reports the bound local address (useful when Address requested
// an ephemeral port via ":0").
func (b *Backend) Addr() net.Addr { return b.ln.Addr() }

// Serve accepts connections until Close is called. It blocks the
// calling goroutine; callers typically invoke it via `go backend.Serve()`.
func (b *Backend) Serve() error {
	if b.cfg.Threading == BoundedWorkerPool {
		n := b.cfg.NumWorkers
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			b.wg.Add(1)
			go b.worker()
		}
	}

	for {
		conn, err := b.ln.Accept()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				b.wg.Wait()
				return nil
			}
			b.cfg.Logger.Error("accept failed", zap.Error(err))
			return err
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(context.Background()); err != nil {
				conn.Close()
				continue
			}
		}
		switch b.cfg.Threading {
		case BoundedWorkerPool:
			b.work <- conn
		default:
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handle(conn)
			}()
		}
	}
}

func (b *Backend) worker() {
	defer b.wg.Done()
	for conn := range b.work {
		b.handle(conn)
	}
}

func (b *Backend) handle(conn net.Conn) {
	metrics.OpenConnections.Inc()
	defer metrics.OpenConnections.Dec()
	_, secure := conn.(*tls.Conn)
	t := NewTCPTransport(conn, secure, b.cfg.Timeouts, b.cfg.MaxRequests, b.cfg.Router, b.cfg.Client, b.cfg.Logger)
	t.Run()
}

// Close stops accepting new connections. In-flight connections are
// left to finish on their own; callers wanting a hard stop should
// close those transports themselves.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	if b.work != nil {
		close(b.work)
	}
	return b.ln.Close()
}

// Server aggregates one or more Backends: a process hosting several
// listen addresses (e.g. plaintext + TLS). The Server holds no router;
// each Backend routes through its own BackendConfig.Router, which may
// be the same tree for all of them.
type Server struct {
	mu       sync.Mutex
	backends []*Backend
	logger   *zap.Logger
}

// NewServer returns an empty Server; add listeners with AddBackend.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger}
}

// AddBackend binds and registers a new listening Backend.
func (s *Server) AddBackend(cfg BackendConfig) (*Backend, error) {
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	b, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.backends = append(s.backends, b)
	s.mu.Unlock()
	return b, nil
}

// Serve starts every registered Backend concurrently and blocks until
// all of them return (normally only on Close or a fatal accept error).
func (s *Server) Serve() error {
	s.mu.Lock()
	backends := append([]*Backend(nil), s.backends...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(backends))
	for _, b := range backends {
		wg.Add(1)
		go func(b *Backend) {
			defer wg.Done()
			if err := b.Serve(); err != nil {
				errs <- err
			}
		}(b)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close stops every registered Backend.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, b := range s.backends {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
