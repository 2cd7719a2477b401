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
	"sync"
	"time"
)

// TimeoutKind identifies which timeout category is currently armed on
// a transport.
type TimeoutKind int

const (
	TimeoutDisabled TimeoutKind = iota
	TimeoutConnect
	TimeoutData
	TimeoutKeepAlive
)

// TimeoutConfig holds the three timeout durations and the
// minimum-bytes-received grace threshold. A duration of zero disables
// that category.
type TimeoutConfig struct {
	Connect              time.Duration
	Data                 time.Duration
	KeepAlive            time.Duration
	MinimumBytesReceived int64
}

// DefaultTimeoutConfig matches stated defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Connect:              2 * time.Second,
		Data:                 5 * time.Second,
		KeepAlive:            30 * time.Second,
		MinimumBytesReceived: 512,
	}
}

// Transport is the send/receive/close triad a Client drives without
// knowing whether the bytes underneath are a raw TCP socket or one
// side of a FastCGI record stream. TCPTransport and the FastCGI
// per-request transport both implement it.
type Transport interface {
	SendToRemote(p []byte) (int, error)
	Close() error
	// RemoteAddr/LocalAddr back the synthetic URL construction and
	// X-Forwarded-style logging; FastCGI fabricates these from CGI
	// params instead of a real socket.
	RemoteAddr() string
	LocalAddr() string
	// Secure reports whether this transport is already
	// confidentiality-protected (TLS, or a FastCGI front-end that told
	// us HTTPS=on), used by SlotInfo.ForceEncrypted redirects.
	Secure() bool
	// RequestCount, MaxRequests, NoteRequestStarting and
	// NoteRequestComplete back the per-transport keep-alive bookkeeping
	// a Client consults when deciding Connection: close vs. keep-alive.
	RequestCount() int
	MaxRequests() int
	NoteRequestStarting()
	NoteRequestComplete()
}

// baseTransport implements the counting, timeout-arming, and
// max-requests bookkeeping shared by every concrete transport kind.
type baseTransport struct {
	mu sync.Mutex

	timeouts TimeoutConfig
	maxReq   int

	timer       *time.Timer
	timeoutKind TimeoutKind
	armedAt     time.Time
	bytesAtArm  int64

	requestCount int
	bytesSent    int64
	bytesRecv    int64

	onTimeout func(TimeoutKind)
}

func newBaseTransport(timeouts TimeoutConfig, maxReq int, onTimeout func(TimeoutKind)) *baseTransport {
	return &baseTransport{timeouts: timeouts, maxReq: maxReq, onTimeout: onTimeout}
}

// RequestCount returns how many requests this transport has completed.
func (b *baseTransport) RequestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requestCount
}

// MaxRequests returns the configured per-transport request ceiling.
func (b *baseTransport) MaxRequests() int {
	return b.maxReq
}

// BytesSent/BytesReceived are the traffic counters.
func (b *baseTransport) BytesSent() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesSent
}

func (b *baseTransport) BytesReceived() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesRecv
}

func (b *baseTransport) noteSent(n int) {
	b.mu.Lock()
	b.bytesSent += int64(n)
	b.mu.Unlock()
}

func (b *baseTransport) noteReceived(n int) {
	b.mu.Lock()
	b.bytesRecv += int64(n)
	b.mu.Unlock()
}

func (b *baseTransport) noteRequestComplete() {
	b.mu.Lock()
	b.requestCount++
	b.mu.Unlock()
}

// NoteRequestComplete satisfies the Transport interface's bookkeeping
// hook, called by Client.Close once a response has been fully sent.
func (b *baseTransport) NoteRequestComplete() { b.noteRequestComplete() }

// NoteRequestStarting satisfies the Transport interface; the base
// implementation has nothing to do at request-start (subclasses that
// care, like the TCP transport disabling its data timeout, override
// it by defining their own method of the same name, which shadows
// this one via Go's embedding rules).
func (b *baseTransport) NoteRequestStarting() {}

// startTimeout arms kind's timer. A Disabled category, or a category
// whose configured duration is zero, short-circuits before computing
// anything further ("conditionally return before arming a timeout");
// Disabled must mean "no timer, full stop", not "timer of zero
// duration".
func (b *baseTransport) startTimeout(kind TimeoutKind) {
	if kind == TimeoutDisabled {
		return
	}
	var d time.Duration
	switch kind {
	case TimeoutConnect:
		d = b.timeouts.Connect
	case TimeoutData:
		d = b.timeouts.Data
	case TimeoutKeepAlive:
		d = b.timeouts.KeepAlive
	}
	if d <= 0 {
		return
	}

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timeoutKind = kind
	b.armedAt = time.Now()
	b.bytesAtArm = b.bytesRecv
	b.timer = time.AfterFunc(d, func() { b.fireTimeout(kind) })
	b.mu.Unlock()
}

// fireTimeout implements the Data-timeout progress check: it only
// actually fires if fewer than MinimumBytesReceived bytes arrived
// since the timer was armed.
func (b *baseTransport) fireTimeout(kind TimeoutKind) {
	b.mu.Lock()
	if b.timeoutKind != kind {
		b.mu.Unlock()
		return // superseded by a later arm/disable
	}
	if kind == TimeoutData {
		delta := b.bytesRecv - b.bytesAtArm
		if delta >= b.timeouts.MinimumBytesReceived {
			// progress was made; re-arm rather than fire.
			b.armedAt = time.Now()
			b.bytesAtArm = b.bytesRecv
			b.timer = time.AfterFunc(b.timeouts.Data, func() { b.fireTimeout(kind) })
			b.mu.Unlock()
			return
		}
	}
	cb := b.onTimeout
	b.mu.Unlock()
	if cb != nil {
		cb(kind)
	}
}

// disableTimeout cancels any armed timer.
func (b *baseTransport) disableTimeout() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timeoutKind = TimeoutDisabled
	b.mu.Unlock()
}
