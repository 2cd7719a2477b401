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

// Command httpcored runs the engine this module implements: an
// HTTP/1.x listener, an optional FastCGI Responder listener, and a
// static-file routing tree serving both.
package main

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caddyserver/httpcore/fastcgi"
	"github.com/caddyserver/httpcore/httpserver"
	"github.com/caddyserver/httpcore/routing"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		httpAddr   string
		fcgiAddr   string
		root       string
		indexFile  string
		threading  string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "httpcored",
		Short: "Run the HTTP/FastCGI engine",
		Long: `httpcored serves static files and RESTful routes over HTTP/1.0
and HTTP/1.1, and optionally answers as a FastCGI Responder for a
front-end web server, from the same routing tree.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(httpAddr, fcgiAddr, root, indexFile, threading, workers)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8080", "address to listen on for HTTP")
	cmd.Flags().StringVar(&fcgiAddr, "fastcgi", "", "address to listen on for FastCGI (disabled if empty)")
	cmd.Flags().StringVar(&root, "root", ".", "file-system root for static resources")
	cmd.Flags().StringVar(&indexFile, "index", "index.html", "index file name for directory requests")
	cmd.Flags().StringVar(&threading, "threading", "goroutine", `connection threading mode: "goroutine" or "pool"`)
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count when --threading=pool (0 selects a default)")

	return cmd
}

func runServe(httpAddr, fcgiAddr, root, indexFile, threading string, workers int) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	tree := routing.NewNode("root")
	tree.IndexFile = indexFile
	tree.StaticMode = routing.Nested
	tree.RootFS = os.DirFS(root)

	mode := httpserver.OneGoroutinePerConnection
	if threading == "pool" {
		mode = httpserver.BoundedWorkerPool
	}

	server := httpserver.NewServer(logger)

	backend, err := server.AddBackend(httpserver.BackendConfig{
		Address: httpAddr,
		Router:  tree,
		Client: httpserver.ClientConfig{
			FQDN:        hostname(),
			MaxRequests: 100,
		},
		Timeouts:    httpserver.DefaultTimeoutConfig(),
		MaxRequests: 100,
		Threading:   mode,
		NumWorkers:  workers,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("binding http listener: %w", err)
	}
	logger.Info("listening", zap.String("proto", "http"), zap.String("addr", backend.Addr().String()))

	if fcgiAddr != "" {
		ln, err := net.Listen("tcp", fcgiAddr)
		if err != nil {
			return fmt.Errorf("binding fastcgi listener: %w", err)
		}
		logger.Info("listening", zap.String("proto", "fastcgi"), zap.String("addr", ln.Addr().String()))
		go serveFastCGI(ln, tree, logger)
	}

	return server.Serve()
}

// serveFastCGI accepts FastCGI front-end connections and runs one
// Multiplexer per connection
func serveFastCGI(ln net.Listener, tree *routing.HttpNode, logger *zap.Logger) {
	cfg := fastcgi.Config{
		Router:      tree,
		FQDN:        hostname(),
		MaxConns:    runtime.NumCPU(),
		MaxRequests: 1000,
		Logger:      logger,
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("fastcgi accept", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		mux := fastcgi.NewMultiplexer(conn, cfg)
		go func() {
			if err := mux.Run(); err != nil {
				logger.Debug("fastcgi connection ended", zap.Error(err))
			}
		}()
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}
