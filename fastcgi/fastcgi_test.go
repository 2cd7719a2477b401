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

package fastcgi

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/caddyserver/httpcore/httpserver"
)

func encodeBeginRequestBody(role Role, flags uint8) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(role))
	buf[2] = flags
	return buf
}

// TestFastCGIRoundTrip drives a full Responder exchange:
// BeginRequest(Responder, id=1) + Params + empty Params + empty StdIn
// should produce a Status:-prefixed StdOut body, an empty terminator
// StdOut record, and EndRequest(0, RequestComplete).
func TestFastCGIRoundTrip(t *testing.T) {
	front, back := net.Pipe()
	defer front.Close()

	router := httpserver.RouterFunc(func(c *httpserver.Client, parts []string) bool {
		c.Write([]byte("hello from api"))
		c.Close()
		return true
	})
	mux := NewMultiplexer(back, Config{Router: router})
	go mux.Run()

	// The front-end's input records and the Multiplexer's response
	// records interleave on the same full-duplex pipe (a completed
	// Params block triggers a synchronous response write before the
	// front even sends StdIn), so the writes happen on their own
	// goroutine while the test body only reads.
	const reqID = 1
	go func() {
		writeRecord(front, TypeBeginRequest, reqID, encodeBeginRequestBody(RoleResponder, 0))
		params := writeNameValuePairs(map[string]string{
			"REQUEST_METHOD":  "GET",
			"REQUEST_URI":     "/api",
			"SERVER_PROTOCOL": "HTTP/1.0",
			"REMOTE_ADDR":     "192.0.2.1",
			"REMOTE_PORT":     "5555",
			"SERVER_ADDR":     "192.0.2.2",
			"SERVER_PORT":     "80",
		})
		writeRecord(front, TypeParams, reqID, params)
		writeRecord(front, TypeParams, reqID, nil)
		writeRecord(front, TypeStdIn, reqID, nil)
	}()

	front.SetReadDeadline(time.Now().Add(5 * time.Second))

	var stdout bytes.Buffer
	var sawEmptyStdOut, sawEndRequest bool
	for i := 0; i < 10 && !sawEndRequest; i++ {
		rec, err := readRecord(front)
		if err != nil {
			t.Fatalf("readRecord: %v", err)
		}
		switch rec.Type {
		case TypeStdOut:
			if len(rec.Content) == 0 {
				sawEmptyStdOut = true
			} else {
				stdout.Write(rec.Content)
			}
		case TypeEndRequest:
			sawEndRequest = true
			if len(rec.Content) < 8 {
				t.Fatalf("short EndRequest content: %d", len(rec.Content))
			}
			if status := ProtocolStatus(rec.Content[4]); status != RequestComplete {
				t.Fatalf("got protocol status %d, want RequestComplete", status)
			}
		default:
			t.Fatalf("unexpected record type %d", rec.Type)
		}
	}
	if !sawEmptyStdOut {
		t.Fatal("expected an empty StdOut terminator record before EndRequest")
	}
	if !sawEndRequest {
		t.Fatal("expected an EndRequest record")
	}
	got := stdout.String()
	if !strings.HasPrefix(got, "Status: 200 OK\r\n") {
		t.Fatalf("expected a CGI Status: line, got %q", got)
	}
	if !strings.HasSuffix(got, "hello from api") {
		t.Fatalf("expected the handler's body at the end, got %q", got)
	}
}

// TestFastCGIUnknownTypeReply checks the "any unknown record type gets
// an UnknownType reply" rule.
func TestFastCGIUnknownTypeReply(t *testing.T) {
	front, back := net.Pipe()
	defer front.Close()

	mux := NewMultiplexer(back, Config{Router: httpserver.RouterFunc(func(*httpserver.Client, []string) bool { return false })})
	go mux.Run()

	const weirdType RecordType = 200
	if err := writeRecord(front, weirdType, 9, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	front.SetReadDeadline(time.Now().Add(5 * time.Second))
	rec, err := readRecord(front)
	if err != nil {
		t.Fatalf("readRecord: %v", err)
	}
	if rec.Type != TypeUnknownType {
		t.Fatalf("got type %d, want UnknownType", rec.Type)
	}
	if rec.RequestID != 9 {
		t.Fatalf("got request id %d", rec.RequestID)
	}
	if len(rec.Content) == 0 || RecordType(rec.Content[0]) != weirdType {
		t.Fatalf("expected the unknown type echoed back in content, got %v", rec.Content)
	}
}

// TestWriteStreamNeverExceedsMaxRecordSize:
// writeStream never emits a record whose content exceeds 65535 bytes,
// and the concatenation of all records' content equals the input.
func TestWriteStreamNeverExceedsMaxRecordSize(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), MaxRecordContent*2+100)

	var wire bytes.Buffer
	if err := writeStream(&wire, TypeStdOut, 1, payload); err != nil {
		t.Fatalf("writeStream: %v", err)
	}

	var reassembled bytes.Buffer
	r := bytes.NewReader(wire.Bytes())
	for r.Len() > 0 {
		rec, err := readRecord(r)
		if err != nil {
			t.Fatalf("readRecord: %v", err)
		}
		if len(rec.Content) > MaxRecordContent {
			t.Fatalf("record exceeded 65535 bytes: %d", len(rec.Content))
		}
		reassembled.Write(rec.Content)
	}
	if !bytes.Equal(reassembled.Bytes(), payload) {
		t.Fatal("reassembled StdOut content does not equal the original payload")
	}
}

// TestNameValuePairRoundTrip exercises both the 1-byte and 4-byte
// length encodings.
func TestNameValuePairRoundTrip(t *testing.T) {
	longVal := strings.Repeat("v", 200)
	pairs := map[string]string{
		"SHORT": "ok",
		"LONG":  longVal,
	}
	encoded := writeNameValuePairs(pairs)
	decoded, err := readNameValuePairs(encoded)
	if err != nil {
		t.Fatalf("readNameValuePairs: %v", err)
	}
	if decoded["SHORT"] != "ok" || decoded["LONG"] != longVal {
		t.Fatalf("got %v", decoded)
	}
}
