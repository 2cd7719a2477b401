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

package bodyreader

import (
	"bytes"
	"strings"

	"github.com/caddyserver/httpcore/internal/httpparse"
)

type multipartState int

const (
	mpFirstLine multipartState = iota
	mpHeaders
	mpBody
	mpComplete
	mpError
)

// Multipart implements the RFC 2388 multipart/form-data reader.
// Headers are parsed with the same ParseHeaderLine the
// request-line parser uses, and fields stream into per-field
// tempbuffer.Buffers as bytes arrive rather than being assembled in one
// big in-memory slice.
type Multipart struct {
	dashBoundary string
	pending      []byte
	state        multipartState
	failed       bool
	complete     bool

	names    []string
	fields   map[string]*Field
	cur      *Field
	curDisp  string
	curMIME  string

	events Events
}

// NewMultipart returns a Multipart reader for the given boundary
// (without the leading "--", as it appears in the Content-Type header).
func NewMultipart(boundary string, events Events) *Multipart {
	return &Multipart{
		dashBoundary: "--" + boundary,
		fields:       make(map[string]*Field),
		events:       events,
	}
}

func (m *Multipart) IsComplete() bool { return m.complete }
func (m *Multipart) HasFailed() bool  { return m.failed }

func (m *Multipart) FieldNames() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

func (m *Multipart) HasField(name string) bool {
	_, ok := m.fields[name]
	return ok
}

func (m *Multipart) Field(name string) *Field { return m.fields[name] }

func (m *Multipart) fail() error {
	m.state = mpError
	m.failed = true
	if m.events.Completed != nil {
		m.events.Completed(false)
	}
	return errMultipartFailed
}

var errMultipartFailed = &parseError{"bodyreader: malformed multipart body"}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

// Write feeds more raw body bytes into the parser, advancing as far
// through the grammar as the currently-buffered bytes allow.
func (m *Multipart) Write(p []byte) error {
	if m.state == mpError || m.state == mpComplete {
		if m.state == mpError {
			return errMultipartFailed
		}
		return nil
	}
	m.pending = append(m.pending, p...)
	for {
		switch m.state {
		case mpFirstLine:
			if !m.advanceFirstLine() {
				return nil
			}
		case mpHeaders:
			done, err := m.advanceHeaders()
			if err != nil {
				return m.fail()
			}
			if !done {
				return nil
			}
		case mpBody:
			progressed, err := m.advanceBody()
			if err != nil {
				return m.fail()
			}
			if !progressed {
				return nil
			}
		case mpComplete:
			return nil
		case mpError:
			return errMultipartFailed
		}
	}
}

func (m *Multipart) advanceFirstLine() bool {
	idx := bytes.Index(m.pending, []byte("\r\n"))
	if idx < 0 {
		return false
	}
	line := string(m.pending[:idx])
	m.pending = m.pending[idx+2:]
	if line != m.dashBoundary {
		m.state = mpError
		m.failed = true
		return true
	}
	m.state = mpHeaders
	m.curDisp = ""
	m.curMIME = "text/plain"
	return true
}

func (m *Multipart) advanceHeaders() (bool, error) {
	for {
		idx := bytes.Index(m.pending, []byte("\r\n"))
		if idx < 0 {
			return false, nil
		}
		line := string(m.pending[:idx])
		m.pending = m.pending[idx+2:]
		if line == "" {
			return m.beginField()
		}
		name, value, ok := httpparse.ParseHeaderLine(line)
		if !ok {
			return false, errMultipartFailed
		}
		switch strings.ToLower(name) {
		case "content-disposition":
			m.curDisp = value
		case "content-type":
			m.curMIME = value
		}
	}
}

func (m *Multipart) beginField() (bool, error) {
	fieldName, ok := parseFormDataName(m.curDisp)
	if !ok {
		return false, errMultipartFailed
	}
	f := newField(fieldName, m.curMIME, -1)
	m.cur = f
	if !m.HasField(fieldName) {
		m.names = append(m.names, fieldName)
	}
	m.fields[fieldName] = f
	if m.events.FieldFound != nil {
		m.events.FieldFound(fieldName)
	}
	m.state = mpBody
	return true, nil
}

// parseFormDataName extracts name="..." from a
// `form-data; name="foo"; filename="bar"` Content-Disposition value.
func parseFormDataName(disposition string) (string, bool) {
	parts := strings.Split(disposition, ";")
	if len(parts) == 0 || strings.TrimSpace(parts[0]) != "form-data" {
		return "", false
	}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if !strings.HasPrefix(p, "name=") {
			continue
		}
		v := strings.TrimPrefix(p, "name=")
		v = strings.Trim(v, `"`)
		return v, true
	}
	return "", false
}

// advanceBody consumes as much of the current field's body as can be
// safely identified as not part of an upcoming boundary. It withholds
// a trailing margin of len("\r\n"+dashBoundary)-1 bytes so a boundary
// split across two Write calls is never short-circuited into the
// field's stream.
func (m *Multipart) advanceBody() (bool, error) {
	marker := "\r\n" + m.dashBoundary
	idx := bytes.Index(m.pending, []byte(marker))
	if idx >= 0 {
		rest := m.pending[idx+len(marker):]
		last := bytes.HasPrefix(rest, []byte("--"))
		nl := bytes.Index(rest, []byte("\r\n"))
		if !last && nl < 0 {
			// need more bytes to confirm the CRLF after the boundary;
			// nothing is consumed until then
			return false, nil
		}
		if err := m.cur.write(m.pending[:idx]); err != nil {
			return false, err
		}
		m.cur.complete = true
		if m.events.FieldCompleted != nil {
			m.events.FieldCompleted(m.cur.Name)
		}
		if last {
			m.pending = rest[2:]
			return m.finish()
		}
		m.pending = rest[nl+2:]
		m.state = mpHeaders
		m.curDisp = ""
		m.curMIME = "text/plain"
		return true, nil
	}

	margin := len(marker) - 1
	if len(m.pending) <= margin {
		return false, nil
	}
	safe := m.pending[:len(m.pending)-margin]
	if len(safe) == 0 {
		return false, nil
	}
	if err := m.cur.write(safe); err != nil {
		return false, err
	}
	m.pending = m.pending[len(safe):]
	return true, nil
}

func (m *Multipart) finish() (bool, error) {
	m.state = mpComplete
	m.complete = true
	if m.events.Completed != nil {
		m.events.Completed(true)
	}
	return true, nil
}
