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

// Package httpwrite holds the stateless formatters that turn response
// state into wire bytes: status lines, header blocks, Set-Cookie lines,
// and the Date/Content-Length/Content-Range/Transfer-Encoding/Connection
// derivation rules. Cookies are serialized by hand,
// per RFC 2109, rather than through a generic header-writing library,
// to avoid the header-folding quirks that a few widely used libraries
// have shipped for Set-Cookie.
package httpwrite

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatusText returns the reason phrase for the status codes this
// engine emits; unrecognized codes return "".
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 206:
		return "Partial Content"
	case 301:
		return "Moved Permanently"
	case 307:
		return "Temporary Redirect"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Request Entity Too Large"
	case 416:
		return "Range Not Satisfiable"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return ""
	}
}

// StatusLine formats "HTTP/x.y CODE MSG\r\n". If msg is empty it is
// derived from StatusText.
func StatusLine(versionStr string, code int, msg string) string {
	if msg == "" {
		msg = StatusText(code)
	}
	return fmt.Sprintf("HTTP/%s %d %s\r\n", versionStr, code, msg)
}

// HeaderLine formats one "Name: Value\r\n" line. The name is written
// as given — callers are expected to have canonicalized it already.
func HeaderLine(name, value string) string {
	return name + ": " + value + "\r\n"
}

// DateHeader formats t as an RFC-1123 GMT date
// suitable for a Date header, e.g. "Mon, 02 Jan 2006 15:04:05 GMT".
func DateHeader(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}

// NeedsDateHeader reports whether a Date header should be synthesized:
// true iff the response is HTTP/1.1 and no Date header is present yet.
func NeedsDateHeader(isHTTP11 bool, alreadyPresent bool) bool {
	return isHTTP11 && !alreadyPresent
}

// ContentRangeHeader formats "bytes S-E/T" (or "bytes S-E/*" when total
// is unknown, total < 0).
func ContentRangeHeader(start, end, total int64) string {
	if total < 0 {
		return fmt.Sprintf("bytes %d-%d/*", start, end)
	}
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// TransferEncodingValue appends "chunked" to an existing Transfer-Encoding
// value (if any) when chunked framing is in effect and "chunked" isn't
// already present.
func TransferEncodingValue(existing string, chunked bool) (value string, shouldSet bool) {
	if !chunked {
		return existing, existing != ""
	}
	if existing == "" {
		return "chunked", true
	}
	for _, tok := range strings.Split(existing, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
			return existing, true
		}
	}
	return existing + ", chunked", true
}

// ConnectionValue implements the Connection-header selection rule:
// "close" if the request count has hit the per-transport max or the
// mode is forced Close, else "keep-alive".
func ConnectionValue(count, max int, forceClose bool) string {
	if forceClose || (max > 0 && count >= max) {
		return "close"
	}
	return "keep-alive"
}

// Cookie is the subset of cookie attributes the writer knows how to
// serialize. Expires is the zero Time when unset.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	MaxAge   int64 // seconds; written only if HasMaxAge, negative as 0
	HasMaxAge bool
	Secure   bool
	HTTPOnly bool
}

// SetCookieLine serializes a Cookie as a "Set-Cookie: ..." value
// (without the header name or trailing CRLF), per RFC 2109. Expired
// dates (in the past) are clamped to the Unix epoch, matching browsers'
// treatment of "delete this cookie" cookies.
func SetCookieLine(c Cookie) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(percentEncode(c.Value))
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if !c.Expires.IsZero() {
		exp := c.Expires
		if exp.Before(time.Unix(0, 0)) {
			exp = time.Unix(0, 0)
		}
		b.WriteString("; Expires=")
		b.WriteString(exp.UTC().Format("Mon, 02-Jan-2006 15:04:05 GMT"))
	}
	if c.HasMaxAge {
		age := c.MaxAge
		if age < 0 {
			age = 0
		}
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.FormatInt(age, 10))
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}

// percentEncode escapes every byte outside the RFC 3986 unreserved set
// as %XX. Plain percent-encoding, not form encoding: a space becomes
// %20 and a literal '+' becomes %2B, so the value survives a
// standards-compliant decoder unchanged.
func percentEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xF])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}
