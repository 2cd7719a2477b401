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

package httpserver

// Router is implemented by the routing tree (package routing) so that
// httpserver never has to import it directly — routing imports
// httpserver for the Client/SlotInfo types instead, avoiding a cycle.
type Router interface {
	// InvokePath dispatches an already-split path to the tree. It
	// reports whether any node answered the request (wrote a status or
	// body); false means the caller should respond 404.
	InvokePath(c *Client, parts []string) bool
}

// RouterFunc adapts a plain function to the Router interface, mainly
// for tests and for embedding a single catch-all handler without
// standing up a full node tree.
type RouterFunc func(c *Client, parts []string) bool

func (f RouterFunc) InvokePath(c *Client, parts []string) bool { return f(c, parts) }
