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

package routing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caddyserver/httpcore/httpserver"
)

// restfulPattern is one compiled REST registration:
// a compiled regex, the verbs it answers, the argument names in
// declaration order, the callback, and whether the body must be
// buffered before the callback runs.
type restfulPattern struct {
	re          *regexp.Regexp
	verbs       map[httpserver.Verb]bool
	argNames    []string
	argTypes    []ArgType
	handler     RestfulHandler
	waitForBody bool
}

// RestfulHandler receives the captured path arguments (already
// type-converted, in declaration order) plus the client, and returns a
// Go value to be serialized onto the response.
type RestfulHandler func(c *httpserver.Client, args []any) (any, error)

// ArgType names the conversion a captured path segment undergoes
// before being passed to a RestfulHandler, converting it to the
// handler's declared argument type.
type ArgType int

const (
	ArgString ArgType = iota
	ArgInt
	ArgFloat
	ArgBool
)

// RestfulNode holds an ordered set of pattern registrations and
// dispatches a request path against them, most-recently-inserted
// first.
type RestfulNode struct {
	patterns []*restfulPattern
}

func newRestfulNode() *RestfulNode {
	return &RestfulNode{}
}

// compilePattern implements the pattern-compilation rule: each
// `{name}` is replaced with `([^X]+)` where X is the literal character
// following the closing brace (or `.+` with no trailing literal if
// `{name}` is the last token), and the whole expression is anchored at
// both ends.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	var re strings.Builder
	var names []string
	re.WriteByte('^')
	i := 0
	for i < len(pattern) {
		if pattern[i] == '{' {
			end := strings.IndexByte(pattern[i:], '}')
			if end < 0 {
				return nil, nil, fmt.Errorf("routing: unterminated {name} in pattern %q", pattern)
			}
			name := pattern[i+1 : i+end]
			names = append(names, name)
			i += end + 1
			if i < len(pattern) {
				literal := pattern[i]
				re.WriteString("([^")
				re.WriteString(regexp.QuoteMeta(string(literal)))
				re.WriteString("]+)")
				re.WriteString(regexp.QuoteMeta(string(literal)))
				i++
			} else {
				re.WriteString("(.+)")
			}
			continue
		}
		re.WriteString(regexp.QuoteMeta(string(pattern[i])))
		i++
	}
	re.WriteByte('$')
	compiled, err := regexp.Compile(re.String())
	if err != nil {
		return nil, nil, err
	}
	return compiled, names, nil
}

// Register compiles pattern and puts it at the front of the node's
// registration list, making it the first one tried on the next dispatch.
func (n *RestfulNode) Register(pattern string, verbs []httpserver.Verb, argTypes []ArgType, waitForBody bool, handler RestfulHandler) error {
	re, names, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	if len(argTypes) != len(names) {
		return fmt.Errorf("routing: pattern %q declares %d captures but %d argument types were given", pattern, len(names), len(argTypes))
	}
	verbSet := make(map[httpserver.Verb]bool, len(verbs))
	for _, v := range verbs {
		verbSet[v] = true
	}
	p := &restfulPattern{
		re:          re,
		verbs:       verbSet,
		argNames:    names,
		handler:     handler,
		waitForBody: waitForBody,
	}
	p.argTypes = argTypes
	n.patterns = append([]*restfulPattern{p}, n.patterns...)
	return nil
}

// dispatch walks registrations most-recent-first and invokes the
// first whose pattern matches the joined path suffix.
func (n *RestfulNode) dispatch(remainder []string, c *httpserver.Client) bool {
	joined := "/" + strings.Join(remainder, "/")
	for _, p := range n.patterns {
		m := p.re.FindStringSubmatch(joined)
		if m == nil {
			continue
		}
		req := c.Request()
		if !p.verbs[req.Verb] {
			respondStatus(c, 405)
			return true
		}
		args, ok := convertArgs(m[1:], p.argTypes)
		if !ok {
			respondStatus(c, 400)
			return true
		}
		if p.waitForBody && req.PostBodyLength > 0 {
			c.ExpectBufferedBody(httpserver.DefaultMaxBodyLength)
			c.OnBodyComplete = func() { invokeRestful(p, c, args) }
			return true
		}
		invokeRestful(p, c, args)
		return true
	}
	return false
}

func invokeRestful(p *restfulPattern, c *httpserver.Client, args []any) {
	result, err := p.handler(c, args)
	if err != nil {
		respondStatus(c, 500)
		return
	}
	writeSerialized(c, result)
}

func convertArgs(captures []string, types []ArgType) ([]any, bool) {
	out := make([]any, len(captures))
	for i, raw := range captures {
		switch types[i] {
		case ArgInt:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, false
			}
			out[i] = n
		case ArgFloat:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, false
			}
			out[i] = f
		case ArgBool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, false
			}
			out[i] = b
		default:
			out[i] = raw
		}
	}
	return out, true
}

// writeSerialized implements the result-serialization rule: a []byte
// or string passes through verbatim; everything else is run through
// serializeValue and emitted as JSON.
func writeSerialized(c *httpserver.Client, v any) {
	switch val := v.(type) {
	case []byte:
		c.Write(val)
		c.Close()
		return
	case string:
		c.Write([]byte(val))
		c.Close()
		return
	}
	serialized := serializeValue(reflect.ValueOf(v))
	body, err := json.Marshal(serialized)
	if err != nil {
		respondStatus(c, 500)
		return
	}
	c.Response().Header.Set("Content-Type", "application/json; charset=utf-8")
	c.Write(body)
	c.Close()
}

// serializeValue recursively converts a Go value into something
// encoding/json can render: numeric, bool and string values pass
// through as-is, time.Time becomes an ISO-8601 string, maps and
// slices are walked recursively, and any other struct falls back to
// its JSON tags via a plain re-marshal.
func serializeValue(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if t, ok := v.Interface().(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return serializeValue(v.Elem())
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = serializeValue(iter.Value())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = serializeValue(v.Index(i))
		}
		return out
	case reflect.Struct:
		return v.Interface()
	default:
		return v.Interface()
	}
}
