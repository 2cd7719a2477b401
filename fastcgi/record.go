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

// Package fastcgi implements the server (Responder) side of FastCGI
// 1.0: a record demultiplexer that turns one front-end
// socket into many logical httpserver.Transport instances, one per
// requestId, each driving its own httpserver.Client.
package fastcgi

import (
	"encoding/binary"
	"errors"
	"io"
)

// RecordType is the FastCGI 1.0 record type byte
// BeginRequest/AbortRequest/EndRequest/Params/StdIn/StdOut/GetValues/
// GetValuesResult/UnknownType enumeration.
type RecordType uint8

const (
	TypeBeginRequest RecordType = iota + 1
	TypeAbortRequest
	TypeEndRequest
	TypeParams
	TypeStdIn
	TypeStdOut
	TypeStdErr
	TypeData
	TypeGetValues
	TypeGetValuesResult
	TypeUnknownType
)

// Role identifies the FastCGI role requested by BeginRequest. Only
// RoleResponder is supported; anything else is rejected.
type Role uint16

const (
	RoleResponder Role = iota + 1
	RoleAuthorizer
	RoleFilter
)

// ProtocolStatus is the one-byte status EndRequest carries.
type ProtocolStatus uint8

const (
	RequestComplete ProtocolStatus = iota
	CantMultiplexConnections
	Overloaded
	UnknownRole
)

const (
	protocolVersion1 = 1
	headerLen        = 8
	// KeepConnFlag is BeginRequest's one defined flag bit: when set,
	// the front end keeps the socket open across this request's
	// EndRequest instead of closing it.
	KeepConnFlag uint8 = 1
	// MaxRecordContent is the largest contentLength a single record's
	// 16-bit field can carry.
	MaxRecordContent = 0xFFFF
)

var errBadVersion = errors.New("fastcgi: unsupported record version")

// recordHeader is the 8-byte, big-endian-encoded frame header every
// FastCGI record begins with.
type recordHeader struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// record is one fully-read FastCGI record: its header plus content
// (padding is consumed but discarded).
type record struct {
	Type      RecordType
	RequestID uint16
	Content   []byte
}

// readRecord reads and validates one record from r.
func readRecord(r io.Reader) (record, error) {
	var h recordHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return record{}, err
	}
	if h.Version != protocolVersion1 {
		return record{}, errBadVersion
	}
	total := int(h.ContentLength) + int(h.PaddingLength)
	buf := make([]byte, total)
	if total > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return record{}, err
		}
	}
	return record{Type: RecordType(h.Type), RequestID: h.RequestID, Content: buf[:h.ContentLength]}, nil
}

// writeRecord frames content as exactly one record; content longer
// than MaxRecordContent is rejected with an error (writeStream splits
// such payloads across several records). Padding rounds the content to an 8-byte
// boundary (`-contentLength & 7`).
func writeRecord(w io.Writer, typ RecordType, requestID uint16, content []byte) error {
	if len(content) > MaxRecordContent {
		return errors.New("fastcgi: record content exceeds 65535 bytes")
	}
	padding := (8 - (len(content) % 8)) % 8
	h := recordHeader{
		Version:       protocolVersion1,
		Type:          uint8(typ),
		RequestID:     requestID,
		ContentLength: uint16(len(content)),
		PaddingLength: uint8(padding),
	}
	if err := binary.Write(w, binary.BigEndian, h); err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return err
	}
	if padding > 0 {
		var pad [8]byte
		if _, err := w.Write(pad[:padding]); err != nil {
			return err
		}
	}
	return nil
}

// writeStream frames an arbitrarily long payload as a sequence of
// records of at most MaxRecordContent bytes each, so no single record
// ever exceeds 65535 bytes. An empty payload still emits one empty
// record, since an empty StdOut record is itself the stream
// terminator.
func writeStream(w io.Writer, typ RecordType, requestID uint16, payload []byte) error {
	if len(payload) == 0 {
		return writeRecord(w, typ, requestID, nil)
	}
	for len(payload) > 0 {
		n := len(payload)
		if n > MaxRecordContent {
			n = MaxRecordContent
		}
		if err := writeRecord(w, typ, requestID, payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

// parseBeginRequest decodes BeginRequest's fixed 8-byte content (role,
// flags, and 5 reserved bytes we don't need to retain).
func parseBeginRequest(content []byte) (Role, uint8, error) {
	if len(content) < 8 {
		return 0, 0, errors.New("fastcgi: short BeginRequest body")
	}
	role := binary.BigEndian.Uint16(content[0:2])
	flags := content[2]
	return Role(role), flags, nil
}

// encodeEndRequest builds EndRequest's fixed 8-byte content.
func encodeEndRequest(appStatus uint32, status ProtocolStatus) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], appStatus)
	buf[4] = uint8(status)
	return buf
}

// readNameValuePairs parses the Params/GetValues wire encoding:
// name-value pair lengths use 1-byte form if <= 127, else 4-byte form
// with the MSB of the first byte set.
func readNameValuePairs(content []byte) (map[string]string, error) {
	out := make(map[string]string)
	i := 0
	readLen := func() (int, error) {
		if i >= len(content) {
			return 0, errors.New("fastcgi: truncated name-value length")
		}
		b0 := content[i]
		if b0>>7 == 0 {
			i++
			return int(b0), nil
		}
		if i+4 > len(content) {
			return 0, errors.New("fastcgi: truncated 4-byte name-value length")
		}
		v := binary.BigEndian.Uint32(content[i : i+4])
		i += 4
		return int(v & 0x7fffffff), nil
	}
	for i < len(content) {
		nameLen, err := readLen()
		if err != nil {
			return nil, err
		}
		valLen, err := readLen()
		if err != nil {
			return nil, err
		}
		if i+nameLen+valLen > len(content) {
			return nil, errors.New("fastcgi: truncated name-value pair")
		}
		name := string(content[i : i+nameLen])
		i += nameLen
		val := string(content[i : i+valLen])
		i += valLen
		out[name] = val
	}
	return out, nil
}

// writeNameValuePairs is readNameValuePairs's inverse, used to answer
// GetValues with GetValuesResult.
func writeNameValuePairs(pairs map[string]string) []byte {
	var out []byte
	writeLen := func(n int) {
		if n <= 127 {
			out = append(out, byte(n))
			return
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n)|0x80000000)
		out = append(out, b[:]...)
	}
	for name, val := range pairs {
		writeLen(len(name))
		writeLen(len(val))
		out = append(out, name...)
		out = append(out, val...)
	}
	return out
}
