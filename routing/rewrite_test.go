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
	"strings"
	"testing"

	"github.com/caddyserver/httpcore/httpserver"
)

func TestRewriteSubpathReentersOwnNode(t *testing.T) {
	root := NewNode("")
	legacy := NewNode("legacy")
	var gotPath string
	legacy.AddSlot("new-name", &httpserver.SlotInfo{
		AllowedVerbs: map[httpserver.Verb]bool{httpserver.GET: true},
		Handler: func(c *httpserver.Client) {
			gotPath = c.Request().URL.Path
			c.Write([]byte("rewritten"))
			c.Close()
		},
	})
	root.AddChild("legacy", legacy)
	if err := legacy.Rewrite().AddRule(RewriteSubpath, `^/old-name$`, "new-name"); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	_, transport := driveRequest(root, "GET /legacy/old-name HTTP/1.0\r\n\r\n")
	if !strings.HasSuffix(transport.out.String(), "rewritten") {
		t.Fatalf("got %q", transport.out.String())
	}
	_ = gotPath
}

func TestRewritePathReentersFromRoot(t *testing.T) {
	root := NewNode("")
	root.AddSlot("new", &httpserver.SlotInfo{
		AllowedVerbs: map[httpserver.Verb]bool{httpserver.GET: true},
		Handler: func(c *httpserver.Client) {
			c.Write([]byte("new-target"))
			c.Close()
		},
	})
	if err := root.Rewrite().AddRule(RewritePath, `^/old$`, "/new"); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	client, transport := driveRequest(root, "GET /old HTTP/1.0\r\n\r\n")
	if client.Response().StatusCode != 200 {
		t.Fatalf("expected an internal rewrite, not a redirect status; got %d", client.Response().StatusCode)
	}
	if !strings.HasSuffix(transport.out.String(), "new-target") {
		t.Fatalf("got %q", transport.out.String())
	}
}

func TestRewriteOnlyFirstMatchingRuleApplies(t *testing.T) {
	root := NewNode("")
	var hit string
	root.AddSlot("first", &httpserver.SlotInfo{
		AllowedVerbs: map[httpserver.Verb]bool{httpserver.GET: true},
		Handler:      func(c *httpserver.Client) { hit = "first"; c.Write(nil); c.Close() },
	})
	root.AddSlot("second", &httpserver.SlotInfo{
		AllowedVerbs: map[httpserver.Verb]bool{httpserver.GET: true},
		Handler:      func(c *httpserver.Client) { hit = "second"; c.Write(nil); c.Close() },
	})
	if err := root.Rewrite().AddRule(RewritePath, `^/x$`, "/first"); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := root.Rewrite().AddRule(RewritePath, `^/x$`, "/second"); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	driveRequest(root, "GET /x HTTP/1.0\r\n\r\n")
	if hit != "first" {
		t.Fatalf("expected only the first matching rule to apply, got %q", hit)
	}
}

func TestRewriteBackreferenceExpansion(t *testing.T) {
	root := NewNode("")
	var gotSlot string
	root.AddSlot("user-7", &httpserver.SlotInfo{
		AllowedVerbs: map[httpserver.Verb]bool{httpserver.GET: true},
		Handler:      func(c *httpserver.Client) { gotSlot = "user-7"; c.Write(nil); c.Close() },
	})
	if err := root.Rewrite().AddRule(RewritePath, `^/u/(\d+)$`, `/user-\1`); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	driveRequest(root, "GET /u/7 HTTP/1.0\r\n\r\n")
	if gotSlot != "user-7" {
		t.Fatalf("expected backreference expansion to route to user-7, got %q", gotSlot)
	}
}
