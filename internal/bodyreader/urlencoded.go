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
	"net/url"
)

type urlencodedState int

const (
	ueKey urlencodedState = iota
	ueValue
	ueComplete
	ueError
)

// URLEncoded implements the application/x-www-form-urlencoded reader:
// tokens separated by '&', key/value by '=', with percent-decoding
// applied to both sides as each token completes.
type URLEncoded struct {
	charset string
	pending []byte
	state   urlencodedState
	failed  bool
	final   bool // true once Close has been called (EOF reached)

	names  []string
	fields map[string]*Field
	curKey string

	events Events
}

// NewURLEncoded returns a URLEncoded reader. charset is reported back
// in each field's MIME type as "text/plain; charset=<charset>".
func NewURLEncoded(charset string, events Events) *URLEncoded {
	if charset == "" {
		charset = "utf-8"
	}
	return &URLEncoded{charset: charset, fields: make(map[string]*Field), events: events}
}

func (u *URLEncoded) IsComplete() bool { return u.state == ueComplete }
func (u *URLEncoded) HasFailed() bool  { return u.failed }

func (u *URLEncoded) FieldNames() []string {
	out := make([]string, len(u.names))
	copy(out, u.names)
	return out
}

func (u *URLEncoded) HasField(name string) bool {
	_, ok := u.fields[name]
	return ok
}

func (u *URLEncoded) Field(name string) *Field { return u.fields[name] }

func (u *URLEncoded) mimeType() string { return "text/plain; charset=" + u.charset }

func (u *URLEncoded) fail() error {
	u.state = ueError
	u.failed = true
	if u.events.Completed != nil {
		u.events.Completed(false)
	}
	return errURLEncodedFailed
}

var errURLEncodedFailed = &parseError{"bodyreader: malformed urlencoded body"}

// Write feeds more raw body bytes into the token scanner.
func (u *URLEncoded) Write(p []byte) error {
	if u.state == ueError {
		return errURLEncodedFailed
	}
	if u.state == ueComplete {
		return nil
	}
	u.pending = append(u.pending, p...)
	for {
		switch u.state {
		case ueKey:
			eq := bytes.IndexByte(u.pending, '=')
			amp := bytes.IndexByte(u.pending, '&')
			if eq < 0 {
				if amp >= 0 {
					return u.fail()
				}
				return nil
			}
			if amp >= 0 && amp < eq {
				return u.fail()
			}
			key, err := url.QueryUnescape(string(u.pending[:eq]))
			if err != nil {
				return u.fail()
			}
			u.pending = u.pending[eq+1:]
			u.curKey = key
			u.state = ueValue
		case ueValue:
			amp := bytes.IndexByte(u.pending, '&')
			if amp < 0 {
				return nil
			}
			if err := u.completeField(u.pending[:amp]); err != nil {
				return u.fail()
			}
			u.pending = u.pending[amp+1:]
			u.state = ueKey
		case ueComplete, ueError:
			return nil
		}
	}
}

func (u *URLEncoded) completeField(raw []byte) error {
	value, err := url.QueryUnescape(string(raw))
	if err != nil {
		return err
	}
	f := newField(u.curKey, u.mimeType(), int64(len(value)))
	if err := f.write([]byte(value)); err != nil {
		return err
	}
	f.complete = true
	if !u.HasField(u.curKey) {
		u.names = append(u.names, u.curKey)
	}
	u.fields[u.curKey] = f
	if u.events.FieldFound != nil {
		u.events.FieldFound(u.curKey)
	}
	if u.events.FieldCompleted != nil {
		u.events.FieldCompleted(u.curKey)
	}
	return nil
}

// Close signals end-of-body. A trailing key=value pair with no '&'
// after it is only completed here; an incomplete key (no '=' seen) at
// EOF is a failure.
func (u *URLEncoded) Close() error {
	switch u.state {
	case ueKey:
		if len(u.pending) == 0 && len(u.names) == 0 && u.curKey == "" {
			// empty body: zero fields, not an error
			u.state = ueComplete
			if u.events.Completed != nil {
				u.events.Completed(true)
			}
			return nil
		}
		return u.fail()
	case ueValue:
		if err := u.completeField(u.pending); err != nil {
			return u.fail()
		}
		u.pending = nil
		u.state = ueComplete
		if u.events.Completed != nil {
			u.events.Completed(true)
		}
		return nil
	case ueComplete:
		return nil
	default:
		return errURLEncodedFailed
	}
}
