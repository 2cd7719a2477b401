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

package websocket

import (
	"encoding/binary"
	"io"
)

// ReadMode controls how inbound frames are surfaced to the caller.
type ReadMode int

const (
	// Frame emits complete frames only, with UTF-8 validated at frame
	// boundaries for Text frames.
	Frame ReadMode = iota
	// FrameStreaming emits readyRead per frame but allows payloads to
	// span multiple fragment frames before being handed over.
	FrameStreaming
	// Streaming emits readyRead once per frame, as soon as that frame
	// has been read whole, without reassembling fragmented messages; a
	// frame's payload is not delivered in parts. UTF-8 validation is
	// disabled.
	Streaming
)

// CloseReason is the cause passed to ConnectionLost.
type CloseReason int

const (
	CloseRequest CloseReason = iota
	IllegalFrameReceived
)

// Handlers are the notifications a Conn raises while driving the
// protocol.
type Handlers struct {
	FrameReceived   func(opcode Opcode, payload []byte)
	ReadyRead       func(payload []byte)
	ConnectionClosed func(code uint16, message string)
	ConnectionLost  func(reason CloseReason)
	PongReceived    func(payload []byte)
}

// Conn drives the WebSocket protocol over an underlying io.ReadWriter,
// from the server's point of view (inbound frames are masked, outbound
// frames are not).
type Conn struct {
	rw       io.ReadWriter
	mode     ReadMode
	handlers Handlers

	closeSent bool
	closeRecv bool

	fragActive bool
	fragType   Opcode
	fragBuf    []byte

	sendFragActive bool
}

// NewConn wraps rw with the RFC 6455 frame codec from the server's
// side: inbound frames must be masked, outbound frames never are (RFC
// 6455 §5.1).
func NewConn(rw io.ReadWriter, mode ReadMode, h Handlers) *Conn {
	return &Conn{rw: rw, mode: mode, handlers: h}
}

// ReadLoop reads and dispatches frames until the connection closes or
// a protocol violation is seen. It returns nil on an orderly close.
func (c *Conn) ReadLoop() error {
	for {
		f, err := ReadFrame(c.rw, true)
		if err != nil {
			if err == ErrProtocol || err == ErrPayloadTooLarge {
				if c.handlers.ConnectionLost != nil {
					c.handlers.ConnectionLost(IllegalFrameReceived)
				}
			}
			return err
		}
		if err := c.dispatch(f); err != nil {
			return err
		}
		if c.closeRecv {
			return nil
		}
	}
}

func (c *Conn) dispatch(f Frame) error {
	switch f.Opcode {
	case OpClose:
		return c.handleClose(f.Payload)
	case OpPing:
		return c.handlePing(f.Payload)
	case OpPong:
		if c.handlers.PongReceived != nil {
			c.handlers.PongReceived(f.Payload)
		}
		return nil
	case OpText, OpBinary:
		return c.handleDataFrame(f)
	case OpContinuation:
		return c.handleContinuation(f)
	}
	return ErrProtocol
}

func (c *Conn) handleDataFrame(f Frame) error {
	if c.fragActive {
		// a new non-continuation data frame while a fragmented message
		// is in progress is fatal
		return c.fatal()
	}
	if c.mode == Streaming {
		if c.handlers.ReadyRead != nil {
			c.handlers.ReadyRead(f.Payload)
		}
		if !f.FIN {
			c.fragActive = true
			c.fragType = f.Opcode
		}
		return nil
	}
	if f.FIN {
		if f.Opcode == OpText && !ValidUTF8(f.Payload) {
			return c.fatal()
		}
		if c.mode == FrameStreaming && c.handlers.ReadyRead != nil {
			c.handlers.ReadyRead(f.Payload)
		}
		c.emitComplete(f.Opcode, f.Payload)
		return nil
	}
	// fragmented message begins
	c.fragActive = true
	c.fragType = f.Opcode
	c.fragBuf = append([]byte(nil), f.Payload...)
	if c.mode == FrameStreaming && c.handlers.ReadyRead != nil {
		c.handlers.ReadyRead(f.Payload)
	}
	return nil
}

func (c *Conn) handleContinuation(f Frame) error {
	if !c.fragActive {
		return c.fatal()
	}
	if c.mode == Streaming {
		if c.handlers.ReadyRead != nil {
			c.handlers.ReadyRead(f.Payload)
		}
		if f.FIN {
			c.fragActive = false
		}
		return nil
	}
	c.fragBuf = append(c.fragBuf, f.Payload...)
	if c.mode == FrameStreaming && c.handlers.ReadyRead != nil {
		c.handlers.ReadyRead(f.Payload)
	}
	if !f.FIN {
		return nil
	}
	c.fragActive = false
	if c.fragType == OpText && !ValidUTF8(c.fragBuf) {
		return c.fatal()
	}
	c.emitComplete(c.fragType, c.fragBuf)
	c.fragBuf = nil
	return nil
}

func (c *Conn) emitComplete(opcode Opcode, payload []byte) {
	if c.handlers.FrameReceived != nil {
		c.handlers.FrameReceived(opcode, payload)
	}
}

func (c *Conn) fatal() error {
	if c.handlers.ConnectionLost != nil {
		c.handlers.ConnectionLost(IllegalFrameReceived)
	}
	return ErrProtocol
}

func (c *Conn) handlePing(payload []byte) error {
	return WriteFrame(c.rw, true, OpPong, false, [4]byte{}, payload)
}

// validCloseCode implements the RFC 6455 §7.4 allow-list: 1000-1003,
// 1007-1011, and the application range 3000-4999. 1004-1006 and
// 1012-2999 (and anything below 1000 or above 4999) are rejected.
func validCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1011:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}

// handleClose parses an inbound Close frame. A code/reason that fails
// RFC 6455 §7.4 validation (or a reason that isn't valid UTF-8) is not
// itself connection-fatal here — enumerated drop
// conditions don't list it — it simply isn't reported: the event
// normalizes to the generic (1000, "") the same as a Close with no
// payload at all, and the mirrored reply is always 1000 regardless of
// what the peer sent.
func (c *Conn) handleClose(payload []byte) error {
	c.closeRecv = true
	code := uint16(1000)
	message := ""
	if len(payload) >= 2 {
		parsed := binary.BigEndian.Uint16(payload[:2])
		reason := payload[2:]
		if validCloseCode(parsed) && ValidUTF8(reason) {
			code = parsed
			message = string(reason)
		}
	}
	if !c.closeSent {
		c.SendClose(1000, "")
	}
	if c.handlers.ConnectionClosed != nil {
		c.handlers.ConnectionClosed(code, message)
	}
	if c.handlers.ConnectionLost != nil {
		c.handlers.ConnectionLost(CloseRequest)
	}
	return nil
}

// SendClose writes a Close frame with the given status code and UTF-8
// reason (truncated to keep the control-frame payload within 125
// bytes).
func (c *Conn) SendClose(code uint16, reason string) error {
	if c.closeSent {
		return nil
	}
	c.closeSent = true
	payload := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	payload = append(payload, reason...)
	if len(payload) > 125 {
		payload = payload[:125]
	}
	return WriteFrame(c.rw, true, OpClose, false, [4]byte{}, payload)
}

// SendText writes one Text frame (or the final fragment of one, with
// isLast=false starting/continuing a fragmented message).
func (c *Conn) SendText(payload []byte, isLast bool) error {
	return c.send(OpText, payload, isLast)
}

// SendBinary writes one Binary frame, with the same fragmentation
// contract as SendText.
func (c *Conn) SendBinary(payload []byte, isLast bool) error {
	return c.send(OpBinary, payload, isLast)
}

func (c *Conn) send(opcode Opcode, payload []byte, isLast bool) error {
	op := opcode
	if c.sendFragActive {
		op = OpContinuation
	}
	err := WriteFrame(c.rw, isLast, op, false, [4]byte{}, payload)
	if err != nil {
		return err
	}
	if isLast {
		c.sendFragActive = false
	} else {
		c.sendFragActive = true
	}
	return nil
}
