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

// Package jsonstream implements an incremental framer that emits
// complete top-level JSON values as they arrive in a byte stream — used
// to feed WebSocket text frames or streamed POST bodies carrying
// newline-free, back-to-back JSON documents (e.g. `{...}{...}[...]`)
// into a handler one decoded value at a time, without buffering the
// whole connection's lifetime of traffic.
package jsonstream

import "encoding/json"

// Helper tracks brace/bracket/string/escape state across Write calls
// and reports every complete top-level value it has seen.
type Helper struct {
	depth       int
	inString    bool
	escaped     bool
	started     bool
	stringAtTop bool
	buf         []byte
	values      [][]byte
}

// New returns a ready-to-use Helper.
func New() *Helper {
	return &Helper{}
}

// Write feeds more bytes into the framer. Any values completed as a
// result are appended to the internal queue, retrievable with Next.
func (h *Helper) Write(p []byte) {
	for _, c := range p {
		if h.inString {
			h.buf = append(h.buf, c)
			switch {
			case h.escaped:
				h.escaped = false
			case c == '\\':
				h.escaped = true
			case c == '"':
				h.inString = false
				if h.stringAtTop {
					h.stringAtTop = false
					h.flush()
				}
			}
			continue
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			if h.started {
				h.buf = append(h.buf, c)
			}
			continue
		case '"':
			h.inString = true
			h.started = true
			h.stringAtTop = h.depth == 0
			h.buf = append(h.buf, c)
		case '{', '[':
			h.depth++
			h.started = true
			h.buf = append(h.buf, c)
		case '}', ']':
			h.depth--
			h.buf = append(h.buf, c)
			if h.depth == 0 {
				h.flush()
			}
		default:
			h.started = true
			h.buf = append(h.buf, c)
			// Bare scalars (numbers, true/false/null) at the top level
			// have no terminator of their own; callers needing them
			// should wrap them in an array. Objects, arrays, and
			// strings are framed.
		}
	}
}

// flush moves the accumulated buffer into the completed-values queue
// and resets parser state for the next value.
func (h *Helper) flush() {
	v := make([]byte, len(h.buf))
	copy(v, h.buf)
	h.values = append(h.values, v)
	h.buf = h.buf[:0]
	h.started = false
}

// Next pops the oldest completed value, if any.
func (h *Helper) Next() ([]byte, bool) {
	if len(h.values) == 0 {
		return nil, false
	}
	v := h.values[0]
	h.values = h.values[1:]
	return v, true
}

// Pending reports whether a partial value is being accumulated —
// i.e. Write has seen an opening brace/bracket/quote that hasn't
// closed yet.
func (h *Helper) Pending() bool {
	return h.started
}

// Decode is a convenience wrapper that unmarshals the next completed
// value into v.
func (h *Helper) Decode(v interface{}) (bool, error) {
	raw, ok := h.Next()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}
