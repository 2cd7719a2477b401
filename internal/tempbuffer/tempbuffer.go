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

// Package tempbuffer implements a sequential-write, random-read byte
// container that holds small payloads in memory and spills larger ones
// to an unlinked temporary file, so that buffering a response or a
// multipart field never requires the whole body to fit in RAM.
package tempbuffer

import (
	"bytes"
	"errors"
	"io"
	"os"
)

// DefaultThreshold is the number of bytes kept in memory before a
// Buffer spills to disk (recommended 16 KiB).
const DefaultThreshold = 16 * 1024

var errClosed = errors.New("tempbuffer: write after close")

// Buffer is a TemporaryBuffer. The zero value is not
// usable; construct one with New.
type Buffer struct {
	threshold int
	mem       bytes.Buffer
	file      *os.File
	onDisk    bool
	size      int64
	pos       int64
	closed    bool
}

// New returns a Buffer that spills to disk once more than threshold
// bytes have been written. A threshold <= 0 uses DefaultThreshold.
func New(threshold int) *Buffer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Buffer{threshold: threshold}
}

// Write appends p to the buffer, spilling to a temporary file if the
// threshold is crossed. It is an error to Write after Discard.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.closed {
		return 0, errClosed
	}
	if !b.onDisk && b.mem.Len()+len(p) > b.threshold {
		if err := b.spill(); err != nil {
			return 0, err
		}
	}
	var n int
	var err error
	if b.onDisk {
		n, err = b.file.WriteAt(p, b.size)
	} else {
		n, err = b.mem.Write(p)
	}
	b.size += int64(n)
	return n, err
}

// spill moves whatever is currently buffered in memory into a new
// temporary file and unlinks the file immediately (POSIX semantics:
// the descriptor stays valid, the directory entry disappears, so the
// buffer is automatically reclaimed even if Discard is never called).
func (b *Buffer) spill() error {
	f, err := os.CreateTemp("", "httpcore-tempbuffer-*")
	if err != nil {
		return err
	}
	if _, err := f.Write(b.mem.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	name := f.Name()
	os.Remove(name) // unlinked; descriptor remains valid until Discard/Close
	b.file = f
	b.onDisk = true
	b.mem.Reset()
	return nil
}

// Size returns the total number of bytes written so far.
func (b *Buffer) Size() int64 { return b.size }

// Pos returns the current read position, as set by the last Seek.
func (b *Buffer) Pos() int64 { return b.pos }

// Seek repositions the read cursor; it does not change where Write
// appends. Both backings accept io.SeekStart, io.SeekCurrent and
// io.SeekEnd.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	if b.onDisk {
		pos, err := b.file.Seek(offset, whence)
		if err == nil {
			b.pos = pos
		}
		return pos, err
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = b.size + offset
	default:
		return b.pos, errors.New("tempbuffer: invalid whence")
	}
	if newPos < 0 {
		return b.pos, errors.New("tempbuffer: negative position")
	}
	b.pos = newPos
	return b.pos, nil
}

// Read implements io.Reader from the current position.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.onDisk {
		n, err := b.file.ReadAt(p, b.pos)
		b.pos += int64(n)
		return n, err
	}
	data := b.mem.Bytes()
	if b.pos >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// ReadAll rewinds to the start and returns every byte written.
func (b *Buffer) ReadAll() ([]byte, error) {
	if _, err := b.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(b)
}

// Reset truncates the buffer back to empty, keeping any spilled file
// (reused in place) to avoid repeated create/unlink churn.
func (b *Buffer) Reset() error {
	b.size = 0
	b.pos = 0
	if b.onDisk {
		if err := b.file.Truncate(0); err != nil {
			return err
		}
		_, err := b.file.Seek(0, io.SeekStart)
		return err
	}
	b.mem.Reset()
	return nil
}

// Discard releases any backing file and marks the buffer closed;
// further Writes return an error.
func (b *Buffer) Discard() error {
	b.closed = true
	if b.onDisk {
		return b.file.Close()
	}
	return nil
}
