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

package routing

import (
	"strconv"
	"strings"
	"testing"

	"github.com/caddyserver/httpcore/httpserver"
)

func TestRestfulCapturesAndConvertsArgs(t *testing.T) {
	root := NewNode("")
	var gotID int64
	if err := root.Restful().Register("/users/{id}", []httpserver.Verb{httpserver.GET}, []ArgType{ArgInt}, false,
		func(c *httpserver.Client, args []any) (any, error) {
			gotID = args[0].(int64)
			return "user-" + strconv.FormatInt(gotID, 10), nil
		}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, transport := driveRequest(root, "GET /users/42 HTTP/1.0\r\n\r\n")
	if gotID != 42 {
		t.Fatalf("got id %d", gotID)
	}
	if !strings.HasSuffix(transport.out.String(), "user-42") {
		t.Fatalf("got %q", transport.out.String())
	}
}

func TestRestfulBadConversionIs400(t *testing.T) {
	root := NewNode("")
	if err := root.Restful().Register("/users/{id}", []httpserver.Verb{httpserver.GET}, []ArgType{ArgInt}, false,
		func(c *httpserver.Client, args []any) (any, error) {
			t.Fatal("handler should not run on a conversion failure")
			return nil, nil
		}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	client, _ := driveRequest(root, "GET /users/not-a-number HTTP/1.0\r\n\r\n")
	if client.Response().StatusCode != 400 {
		t.Fatalf("got status %d", client.Response().StatusCode)
	}
}

func TestRestfulNewerRegistrationShadowsOlder(t *testing.T) {
	root := NewNode("")
	if err := root.Restful().Register("/items/{id}", []httpserver.Verb{httpserver.GET}, []ArgType{ArgString}, false,
		func(c *httpserver.Client, args []any) (any, error) { return "old", nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := root.Restful().Register("/items/{id}", []httpserver.Verb{httpserver.GET}, []ArgType{ArgString}, false,
		func(c *httpserver.Client, args []any) (any, error) { return "new", nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, transport := driveRequest(root, "GET /items/x HTTP/1.0\r\n\r\n")
	if !strings.HasSuffix(transport.out.String(), "new") {
		t.Fatalf("expected the most-recently-registered pattern to win, got %q", transport.out.String())
	}
}

func TestRestfulWrongVerbIs405(t *testing.T) {
	root := NewNode("")
	if err := root.Restful().Register("/items/{id}", []httpserver.Verb{httpserver.GET}, []ArgType{ArgString}, false,
		func(c *httpserver.Client, args []any) (any, error) { return "x", nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	client, _ := driveRequest(root, "DELETE /items/x HTTP/1.0\r\n\r\n")
	if client.Response().StatusCode != 405 {
		t.Fatalf("got status %d", client.Response().StatusCode)
	}
}

func TestRestfulJSONSerializesStructuredValue(t *testing.T) {
	root := NewNode("")
	if err := root.Restful().Register("/widgets/{id}", []httpserver.Verb{httpserver.GET}, []ArgType{ArgInt}, false,
		func(c *httpserver.Client, args []any) (any, error) {
			return map[string]any{"id": args[0], "name": "widget"}, nil
		}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	client, transport := driveRequest(root, "GET /widgets/7 HTTP/1.0\r\n\r\n")
	if ct := client.Response().Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
	body := transport.out.String()
	if !strings.Contains(body, `"id":7`) || !strings.Contains(body, `"name":"widget"`) {
		t.Fatalf("got %q", body)
	}
}
