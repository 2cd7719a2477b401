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
	"io"
	"net"
	"testing"
	"time"
)

func dialAndRoundTrip(t *testing.T, addr net.Addr) string {
	t.Helper()
	conn, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("GET / HTTP/1.0\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(got)
}

// TestBackendServesOneConnection exercises a Backend end to end over a
// real loopback socket (the one piece of this package that a net.Pipe
// can't stand in for: Accept itself).
func TestBackendServesOneConnection(t *testing.T) {
	router := RouterFunc(func(c *Client, parts []string) bool {
		c.Write([]byte("ok"))
		c.Close()
		return true
	})
	backend, err := NewBackend(BackendConfig{
		Address:     "127.0.0.1:0",
		MaxRequests: 10,
		Router:      router,
		Client:      ClientConfig{MaxRequests: 10},
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	go backend.Serve()
	defer backend.Close()

	want := "HTTP/1.0 200 OK\r\nConnection: close\r\n\r\nok"
	if got := dialAndRoundTrip(t, backend.Addr()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestBackendBoundedWorkerPool checks that the BoundedWorkerPool
// threading mode still serves requests (just through a fixed pool of
// goroutines fed by a channel instead of one goroutine per connection).
func TestBackendBoundedWorkerPool(t *testing.T) {
	router := RouterFunc(func(c *Client, parts []string) bool {
		c.Write([]byte("pooled"))
		c.Close()
		return true
	})
	backend, err := NewBackend(BackendConfig{
		Address:     "127.0.0.1:0",
		Threading:   BoundedWorkerPool,
		NumWorkers:  2,
		MaxRequests: 10,
		Router:      router,
		Client:      ClientConfig{MaxRequests: 10},
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	go backend.Serve()
	defer backend.Close()

	want := "HTTP/1.0 200 OK\r\nConnection: close\r\n\r\npooled"
	if got := dialAndRoundTrip(t, backend.Addr()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestServerAggregatesMultipleBackends checks that a Server fans Serve
// out across every registered Backend and that Close stops all of them,
// unblocking Serve.
func TestServerAggregatesMultipleBackends(t *testing.T) {
	server := NewServer(nil)

	routerFor := func(body string) Router {
		return RouterFunc(func(c *Client, parts []string) bool {
			c.Write([]byte(body))
			c.Close()
			return true
		})
	}

	b1, err := server.AddBackend(BackendConfig{Address: "127.0.0.1:0", MaxRequests: 10, Router: routerFor("one"), Client: ClientConfig{MaxRequests: 10}})
	if err != nil {
		t.Fatalf("AddBackend: %v", err)
	}
	b2, err := server.AddBackend(BackendConfig{Address: "127.0.0.1:0", MaxRequests: 10, Router: routerFor("two"), Client: ClientConfig{MaxRequests: 10}})
	if err != nil {
		t.Fatalf("AddBackend: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	if got, want := dialAndRoundTrip(t, b1.Addr()), "HTTP/1.0 200 OK\r\nConnection: close\r\n\r\none"; got != want {
		t.Fatalf("backend 1: got %q, want %q", got, want)
	}
	if got, want := dialAndRoundTrip(t, b2.Addr()), "HTTP/1.0 200 OK\r\nConnection: close\r\n\r\ntwo"; got != want {
		t.Fatalf("backend 2: got %q, want %q", got, want)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned an error after Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
