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

// Package bodyreader implements the two streaming POST-body parsers:
// multipart/form-data (RFC 2388) and
// application/x-www-form-urlencoded. Both accumulate each field into
// its own internal/tempbuffer.Buffer so large uploads never have to
// live entirely in memory, and both expose the same Reader contract so
// the HTTP client state machine (httpserver.Client) doesn't need to
// know which one it's driving.
package bodyreader

import "github.com/caddyserver/httpcore/internal/tempbuffer"

// Field is one named value parsed out of a POST body.
type Field struct {
	Name     string
	MIMEType string
	buf      *tempbuffer.Buffer
	length   int64 // -1 if unknown
	complete bool
}

func newField(name, mimeType string, length int64) *Field {
	return &Field{Name: name, MIMEType: mimeType, buf: tempbuffer.New(tempbuffer.DefaultThreshold), length: length}
}

// Length reports the field's declared length, or -1 if not announced.
func (f *Field) Length() int64 { return f.length }

// BytesTransferred reports how many bytes have been appended so far.
func (f *Field) BytesTransferred() int64 { return f.buf.Size() }

// Complete reports whether the field's terminator has been seen.
func (f *Field) Complete() bool { return f.complete }

// Stream returns the field's backing buffer, from which accumulated
// bytes can be Read (after Seek(0, io.SeekStart)).
func (f *Field) Stream() *tempbuffer.Buffer { return f.buf }

// Value returns everything written to the field so far, without
// disturbing the buffer's position for later streaming reads.
func (f *Field) Value() ([]byte, error) {
	pos := f.buf.Pos()
	defer f.buf.Seek(pos, 0)
	return f.buf.ReadAll()
}

func (f *Field) write(p []byte) error {
	_, err := f.buf.Write(p)
	return err
}

// Events is the set of notifications a Reader raises as it parses.
// Each is optional; a nil callback is simply not invoked.
type Events struct {
	FieldFound     func(name string)
	FieldCompleted func(name string)
	Completed      func(success bool)
}

// Reader is the common contract shared by both streaming body parsers.
type Reader interface {
	// Write feeds more raw body bytes into the parser.
	Write(p []byte) error
	// IsComplete reports whether the body has been fully parsed.
	IsComplete() bool
	// HasFailed reports whether a parse error has occurred.
	HasFailed() bool
	// FieldNames returns every field name seen, in arrival order.
	FieldNames() []string
	// HasField reports whether name has been seen.
	HasField(name string) bool
	// Field returns the named field, or nil.
	Field(name string) *Field
}
