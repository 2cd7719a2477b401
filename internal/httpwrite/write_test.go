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

package httpwrite

import (
	"strings"
	"testing"
	"time"
)

func TestStatusLineDerivesMessage(t *testing.T) {
	got := StatusLine("1.0", 200, "")
	if got != "HTTP/1.0 200 OK\r\n" {
		t.Fatalf("got %q", got)
	}
	got = StatusLine("1.1", 200, "Custom")
	if got != "HTTP/1.1 200 Custom\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestTransferEncodingValue(t *testing.T) {
	v, set := TransferEncodingValue("", true)
	if !set || v != "chunked" {
		t.Fatalf("got (%q, %v)", v, set)
	}
	v, set = TransferEncodingValue("gzip", true)
	if !set || v != "gzip, chunked" {
		t.Fatalf("got (%q, %v)", v, set)
	}
	v, set = TransferEncodingValue("gzip, chunked", true)
	if !set || v != "gzip, chunked" {
		t.Fatalf("got (%q, %v) want unchanged, already present", v, set)
	}
	_, set = TransferEncodingValue("", false)
	if set {
		t.Fatal("should not set Transfer-Encoding when not chunked and nothing existing")
	}
}

func TestConnectionValue(t *testing.T) {
	if got := ConnectionValue(1, 10, false); got != "keep-alive" {
		t.Fatalf("got %q", got)
	}
	if got := ConnectionValue(10, 10, false); got != "close" {
		t.Fatalf("got %q", got)
	}
	if got := ConnectionValue(1, 10, true); got != "close" {
		t.Fatalf("got %q", got)
	}
}

func TestSetCookieLine(t *testing.T) {
	c := Cookie{Name: "sid", Value: "a b", Domain: "example.com", Path: "/", Secure: true, HTTPOnly: true, HasMaxAge: true, MaxAge: 60}
	got := SetCookieLine(c)
	if !strings.HasPrefix(got, "sid=a%20b") {
		t.Fatalf("got %q", got)
	}
	for _, want := range []string{"Domain=example.com", "Path=/", "Max-Age=60", "Secure", "HttpOnly"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}

func TestSetCookieLinePercentEncodesPlus(t *testing.T) {
	got := SetCookieLine(Cookie{Name: "t", Value: "a+b=c"})
	if !strings.HasPrefix(got, "t=a%2Bb%3Dc") {
		t.Fatalf("got %q", got)
	}
}

func TestSetCookieLineExpiredClamped(t *testing.T) {
	c := Cookie{Name: "x", Value: "y", Expires: time.Unix(-1000, 0)}
	got := SetCookieLine(c)
	if !strings.Contains(got, "Expires=Thu, 01-Jan-1970 00:00:00 GMT") {
		t.Fatalf("expected clamped epoch expiry, got %q", got)
	}
}
