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

// Package routing implements the hierarchical routing tree: named
// child nodes, per-node slots (verb-dispatched handlers),
// static-resource serving, RESTful pattern matching (RestfulNode) and
// path rewriting (RewriteNode). It implements httpserver.Router so it
// can be installed on a Backend without httpserver ever importing this
// package back.
package routing

import (
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/caddyserver/httpcore/httpserver"
)

// StaticMode selects how a node resolves a request path against its
// file-system root "Static resource" step.
type StaticMode int

const (
	// Nested allows any remaining path segments below this node to be
	// joined onto Root and opened.
	Nested StaticMode = iota
	// Flat requires the unmatched remainder to be a single segment (or
	// none); deeper paths are not resolved against this node's files.
	Flat
)

// HttpNode is one node of the routing tree. A node may
// have named children, named slots (verb-dispatched handlers), and a
// file-system root for static resources.
type HttpNode struct {
	Name string

	Root       string
	RootFS     fs.FS
	StaticMode StaticMode
	IndexFile  string // default "index.html"

	// AllowAccess, if set, gates every request under this node before
	// anything else runs; returning false yields 403.
	AllowAccess func(c *httpserver.Client) bool

	children map[string]*HttpNode
	slots    map[string]*httpserver.SlotInfo

	restful *RestfulNode
	rewrite *RewriteNode
}

// NewNode returns an empty HttpNode named name.
func NewNode(name string) *HttpNode {
	return &HttpNode{Name: name, IndexFile: "index.html"}
}

// AddChild registers child under name, replacing any previous child of
// the same name.
func (n *HttpNode) AddChild(name string, child *HttpNode) {
	if n.children == nil {
		n.children = make(map[string]*HttpNode)
	}
	n.children[name] = child
}

// AddSlot registers a verb-dispatched handler under name.
func (n *HttpNode) AddSlot(name string, slot *httpserver.SlotInfo) {
	if n.slots == nil {
		n.slots = make(map[string]*httpserver.SlotInfo)
	}
	n.slots[name] = slot
}

// Restful returns this node's RestfulNode, creating one on first use.
func (n *HttpNode) Restful() *RestfulNode {
	if n.restful == nil {
		n.restful = newRestfulNode()
	}
	return n.restful
}

// Rewrite returns this node's RewriteNode, creating one on first use.
func (n *HttpNode) Rewrite() *RewriteNode {
	if n.rewrite == nil {
		n.rewrite = newRewriteNode(n)
	}
	return n.rewrite
}

// InvokePath implements httpserver.Router by calling invokePath with
// index 0, the entry point Client.dispatch uses for the root node.
func (n *HttpNode) InvokePath(c *httpserver.Client, parts []string) bool {
	return n.invokePath(parts, 0, c)
}

// invokePath walks the routing tree in a fixed order: access check,
// rewrite rules, terminal-slot-or-index resolution, child recursion,
// trailing-slot resolution, RESTful patterns, and finally
// static-resource fallback.
func (n *HttpNode) invokePath(parts []string, index int, c *httpserver.Client) bool {
	if n.AllowAccess != nil && !n.AllowAccess(c) {
		respondStatus(c, 403)
		return true
	}

	if n.rewrite != nil {
		if matched, answered := n.rewrite.tryRewrite(n, parts, index, c); matched {
			return answered
		}
	}

	if index == len(parts) {
		if slot, ok := n.slots["index"]; ok {
			return invokeSlot(slot, c)
		}
		if n.restful != nil && n.restful.dispatch(parts[index:], c) {
			return true
		}
		return n.serveStatic(parts, index, c)
	}

	cur := parts[index]

	if child, ok := n.children[cur]; ok {
		return child.invokePath(parts, index+1, c)
	}

	if index == len(parts)-1 {
		if slot, ok := n.slots[cur]; ok {
			return invokeSlot(slot, c)
		}
	}

	if n.restful != nil && n.restful.dispatch(parts[index:], c) {
		return true
	}

	return n.serveStatic(parts, index, c)
}

func invokeSlot(slot *httpserver.SlotInfo, c *httpserver.Client) bool {
	req := c.Request()
	if !slot.AllowedVerbs[req.Verb] {
		respondStatus(c, 405)
		return true
	}
	if slot.ForceEncrypted && !c.Secure() {
		redirectSecure(c)
		return true
	}
	maxLen := slot.MaxBodyLength
	if maxLen <= 0 {
		maxLen = httpserver.DefaultMaxBodyLength
	}
	if req.PostBodyLength > 0 {
		if slot.StreamPostBody {
			c.ExpectStreamingBody()
		} else {
			c.ExpectBufferedBody(maxLen)
			c.OnBodyComplete = func() { slot.Handler(c) }
			return true
		}
	}
	slot.Handler(c)
	return true
}

func redirectSecure(c *httpserver.Client) {
	req := c.Request()
	u := *req.URL
	u.Scheme = "https"
	resp := c.Response()
	resp.StatusCode = 307
	resp.Header.Set("Location", u.String())
	c.Write(nil)
	c.Close()
}

func respondStatus(c *httpserver.Client, code int) {
	resp := c.Response()
	resp.StatusCode = code
	c.Write(nil)
	c.Close()
}

// serveStatic implements "Static resource" step: reject
// "." or ".." segments, honor StaticMode, resolve via MIME type, and
// pipe the file (respecting any Range already parsed onto the
// Response) to the client.
func (n *HttpNode) serveStatic(parts []string, index int, c *httpserver.Client) bool {
	remainder := parts[index:]
	for _, seg := range remainder {
		if seg == "." || seg == ".." {
			respondStatus(c, 403)
			return true
		}
	}
	if n.StaticMode == Flat && len(remainder) > 1 {
		return false
	}
	if n.Root == "" && n.RootFS == nil {
		return false
	}

	req := c.Request()
	if req.Verb != httpserver.GET {
		respondStatus(c, 405)
		return true
	}

	name := path.Join(remainder...)
	if name == "" || name == "." {
		name = n.IndexFile
	}

	var data fs.File
	var err error
	if n.RootFS != nil {
		data, err = n.RootFS.Open(name)
	} else {
		data, err = os.Open(filepath.Join(n.Root, filepath.FromSlash(name)))
	}
	if err != nil {
		return false
	}
	info, statErr := data.Stat()
	if statErr != nil {
		data.Close()
		return false
	}
	if info.IsDir() {
		data.Close()
		return false
	}

	resp := c.Response()
	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype != "" {
		resp.Header.Set("Content-Type", ctype)
	}

	seeker, ok := data.(interface {
		Seek(offset int64, whence int) (int64, error)
	})
	if resp.RangeStart >= 0 && resp.RangeEnd >= 0 {
		if !ok {
			data.Close()
			respondStatus(c, 416)
			return true
		}
		if resp.RangeStart >= info.Size() || resp.RangeEnd > info.Size() {
			data.Close()
			respondStatus(c, 416)
			return true
		}
		if _, err := seeker.Seek(resp.RangeStart, 0); err != nil {
			data.Close()
			respondStatus(c, 416)
			return true
		}
		resp.StatusCode = 206
		resp.ContentLength = info.Size()
		c.PipeToClient(data, resp.RangeEnd-resp.RangeStart)
		return true
	}

	c.PipeToClient(data, -1)
	return true
}

// SplitPath mirrors Client.dispatch's "split on '/', skip empty
// segments" rule, for callers (e.g. the RewriteNode redirect path, or
// a driving cmd) that need to turn a raw URL path into route parts.
func SplitPath(p string) []string {
	raw := strings.Split(p, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
