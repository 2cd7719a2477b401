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

// Package server assembles one or more listen addresses into running httpserver.Backends,
// plus the TLS-specific bookkeeping (certificate selection, session
// ticket key rotation) that sits above the wire-level TCP transport.
package server

import (
	"crypto/tls"
	"strings"

	"go.uber.org/zap"

	"github.com/caddyserver/httpcore/httpserver"
)

// Config describes one listen address and the routing/TLS policy bound
// to it: host/port, timeouts, and per-backend TLS are independent
// knobs so a Group can mix plaintext and TLS backends freely.
type Config struct {
	Host string
	Port string

	Router httpserver.Router
	Client httpserver.ClientConfig

	// TLSConfig is nil for a plaintext backend. When set, Group assigns
	// it a rotating set of session ticket keys (see tls.go) unless
	// SessionTicketsDisabled is already true.
	TLSConfig *tls.Config

	Timeouts    httpserver.TimeoutConfig
	MaxRequests int
	Threading   httpserver.ThreadingMode
	NumWorkers  int
}

// Address joins Host and Port the way net.JoinHostPort does, but
// tolerates either half being empty (a bare ":1234" or "host:" listen
// spec), which net.JoinHostPort's validation rejects.
func (c Config) Address() string {
	if strings.Contains(c.Host, ":") && !strings.HasPrefix(c.Host, "[") {
		return "[" + c.Host + "]:" + c.Port
	}
	return c.Host + ":" + c.Port
}

// Group binds every Config as a Backend of one httpserver.Server and
// returns that Server once every backend is bound; nothing is served
// until the caller calls Serve.
func Group(logger *zap.Logger, configs ...Config) (*httpserver.Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := httpserver.NewServer(logger)
	for _, c := range configs {
		tlsCfg := c.TLSConfig
		if tlsCfg != nil && !tlsCfg.SessionTicketsDisabled {
			tlsCfg = tlsCfg.Clone()
			startTicketKeyRotation(tlsCfg)
		}
		_, err := s.AddBackend(httpserver.BackendConfig{
			Address:     c.Address(),
			TLS:         tlsCfg,
			Router:      c.Router,
			Client:      c.Client,
			Timeouts:    c.Timeouts,
			MaxRequests: c.MaxRequests,
			Threading:   c.Threading,
			NumWorkers:  c.NumWorkers,
			Logger:      logger,
		})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}
