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
	"regexp"
	"strconv"
	"strings"

	"github.com/caddyserver/httpcore/httpserver"
)

// RewriteBehavior selects which of the two rewrite strategies a rule
// participates in.
type RewriteBehavior int

const (
	// RewriteSubpath matches only the path segment(s) below the node's
	// position; on match the node re-enters its own invokePath with the
	// rewritten remainder.
	RewriteSubpath RewriteBehavior = iota
	// RewritePath matches the whole request path; on match the client
	// is redirected internally (no 30x) to the rewritten path.
	RewritePath
)

// rewriteRule is one (regex, replacement) pair. Replacement may
// contain `\0`-`\99` back-references to the regex's capture groups.
type rewriteRule struct {
	behavior    RewriteBehavior
	re          *regexp.Regexp
	replacement string
}

// RewriteNode holds an ordered list of rewrite rules for one HttpNode.
// Only the first matching rule applies
type RewriteNode struct {
	owner *HttpNode
	rules []rewriteRule
}

func newRewriteNode(owner *HttpNode) *RewriteNode {
	return &RewriteNode{owner: owner}
}

// AddRule compiles pattern and appends a rule to the end of the list
// (first-registered, first-tried — does not reorder rewrite
// rules the way RestfulNode reorders patterns).
func (n *RewriteNode) AddRule(behavior RewriteBehavior, pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	n.rules = append(n.rules, rewriteRule{behavior: behavior, re: re, replacement: replacement})
	return nil
}

// tryRewrite looks for the first matching rule and applies it. The
// bool return reports whether a rule matched at all; when it's false
// the caller (HttpNode.invokePath) continues its own resolution
// unchanged. When it's true, the inner bool is invokePath's own
// "answered" result for the rewritten path.
func (n *RewriteNode) tryRewrite(owner *HttpNode, parts []string, index int, c *httpserver.Client) (bool, bool) {
	for _, rule := range n.rules {
		switch rule.behavior {
		case RewriteSubpath:
			subpath := "/" + strings.Join(parts[index:], "/")
			loc := rule.re.FindStringSubmatchIndex(subpath)
			if loc == nil {
				continue
			}
			rewritten := string(rule.re.ExpandString(nil, expandBackrefs(rule.replacement), subpath, loc))
			newParts := append(append([]string{}, parts[:index]...), SplitPath(rewritten)...)
			return true, owner.invokePath(newParts, index, c)
		case RewritePath:
			full := "/" + strings.Join(parts, "/")
			loc := rule.re.FindStringSubmatchIndex(full)
			if loc == nil {
				continue
			}
			rewritten := string(rule.re.ExpandString(nil, expandBackrefs(rule.replacement), full, loc))
			newParts := SplitPath(rewritten)
			// RewritePath re-enters invokePath from this rule's own
			// node, which is expected to be the tree root; a
			// RewritePath rule registered deeper in the tree only
			// rewrites requests that already reached it.
			return true, owner.invokePath(newParts, 0, c)
		}
	}
	return false, false
}

// expandBackrefs rewrites `\0`-`\99` back-reference syntax
// into the `${0}`-`${99}` syntax regexp.Expand understands, braced so
// that a letter or digit following the reference is kept as literal text.
func expandBackrefs(replacement string) string {
	var b strings.Builder
	i := 0
	for i < len(replacement) {
		if replacement[i] == '\\' && i+1 < len(replacement) && isDigit(replacement[i+1]) {
			j := i + 1
			for j < len(replacement) && isDigit(replacement[j]) && j-i <= 2 {
				j++
			}
			n, err := strconv.Atoi(replacement[i+1 : j])
			if err == nil {
				b.WriteString("${")
				b.WriteString(strconv.Itoa(n))
				b.WriteByte('}')
				i = j
				continue
			}
		}
		b.WriteByte(replacement[i])
		i++
	}
	return b.String()
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
