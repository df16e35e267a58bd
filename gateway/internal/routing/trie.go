package routing

import (
	"fmt"
	"strings"
	"sync"
)

// node is one segment level of a per-method trie. At most one
// parameter child and one wildcard child may exist at a given node;
// any number of literal children may exist.
type node struct {
	literal  map[string]*node
	param    *node
	paramKey string
	wildcard *node
	terminal *Route
}

func newNode() *node {
	return &node{literal: make(map[string]*node)}
}

// Trie holds one root per HTTP method. It is built by a Builder and
// then used read-only: concurrent readers need no lock because the
// tree, once built, is never mutated in place — reconfiguration
// publishes a brand new Trie (see Builder) and swaps the holder's
// pointer atomically (§5 "Shared-resource policy").
type Trie struct {
	roots map[string]*node
}

// Builder accumulates Insert/Remove calls into a mutable draft; Build
// freezes it into an immutable Trie. A Builder serializes its own
// Insert/Remove/Build calls with a mutex; only the finished Trie is
// shared across readers.
type Builder struct {
	mu    sync.Mutex
	roots map[string]*node
}

func NewBuilder() *Builder {
	return &Builder{roots: make(map[string]*node)}
}

// Insert adds route to the trie. Inserting a second route at the same
// (method, pattern) is rejected unless priorities differ, in which
// case the higher priority wins and the loser is discarded (the
// open question in spec.md §9 resolved in favor of "discard").
func (b *Builder) Insert(r *Route) error {
	if err := r.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	root, ok := b.roots[r.Method]
	if !ok {
		root = newNode()
		b.roots[r.Method] = root
	}

	segs := splitSegments(r.Pattern)
	cur := root
	for _, seg := range segs {
		switch {
		case len(seg) > 0 && seg[0] == ':':
			if cur.param == nil {
				cur.param = newNode()
				cur.paramKey = seg[1:]
			}
			cur = cur.param
		case len(seg) > 0 && seg[0] == '*':
			if cur.wildcard == nil {
				cur.wildcard = newNode()
			}
			cur = cur.wildcard
		default:
			child, ok := cur.literal[seg]
			if !ok {
				child = newNode()
				cur.literal[seg] = child
			}
			cur = child
		}
	}

	if cur.terminal != nil {
		if cur.terminal.Pattern == r.Pattern && cur.terminal.Priority == r.Priority {
			return fmt.Errorf("route %s %s already registered with priority %d",
				r.Method, r.Pattern, cur.terminal.Priority)
		}
	}
	if cur.terminal == nil || r.Priority >= cur.terminal.Priority {
		cur.terminal = r
	}
	return nil
}

// Remove deletes the route at (method, pattern), pruning now-empty
// branches on the way back out.
func (b *Builder) Remove(method, pattern string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	root, ok := b.roots[method]
	if !ok {
		return false
	}
	segs := splitSegments(pattern)
	removed := removeRec(root, segs)
	return removed
}

func removeRec(n *node, segs []string) bool {
	if len(segs) == 0 {
		if n.terminal == nil {
			return false
		}
		n.terminal = nil
		return true
	}
	seg := segs[0]
	switch {
	case len(seg) > 0 && seg[0] == ':':
		if n.param == nil {
			return false
		}
		ok := removeRec(n.param, segs[1:])
		if ok && isEmpty(n.param) {
			n.param = nil
			n.paramKey = ""
		}
		return ok
	case len(seg) > 0 && seg[0] == '*':
		if n.wildcard == nil {
			return false
		}
		ok := removeRec(n.wildcard, segs[1:])
		if ok && isEmpty(n.wildcard) {
			n.wildcard = nil
		}
		return ok
	default:
		child, ok := n.literal[seg]
		if !ok {
			return false
		}
		removed := removeRec(child, segs[1:])
		if removed && isEmpty(child) {
			delete(n.literal, seg)
		}
		return removed
	}
}

// Routes returns every route currently registered in the trie, in no
// particular order. Intended for read-only introspection (the admin
// surface's route listing), not for anything on the request path.
func (t *Trie) Routes() []*Route {
	var out []*Route
	for _, root := range t.roots {
		collectRoutes(root, &out)
	}
	return out
}

func collectRoutes(n *node, out *[]*Route) {
	if n == nil {
		return
	}
	if n.terminal != nil {
		*out = append(*out, n.terminal)
	}
	for _, child := range n.literal {
		collectRoutes(child, out)
	}
	collectRoutes(n.param, out)
	collectRoutes(n.wildcard, out)
}

func isEmpty(n *node) bool {
	return n.terminal == nil && len(n.literal) == 0 && n.param == nil && n.wildcard == nil
}

// Build freezes the builder's current state into a Trie. It shares the
// builder's nodes rather than copying them, so a later Insert or Remove
// on the same builder changes the built Trie too; callers build a new
// Builder for subsequent edits.
func (b *Builder) Build() *Trie {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Trie{roots: b.roots}
}

// Match walks path segment-by-segment from the per-method root,
// preferring literal > parameter > wildcard at each level (§4.3).
// It is O(k) in the number of path segments and requires no lock.
func (t *Trie) Match(method, path string) (*Match, bool) {
	root, ok := t.roots[method]
	if !ok {
		return nil, false
	}
	segs := splitSegments(path)
	return matchRec(root, segs)
}

func matchRec(n *node, segs []string) (*Match, bool) {
	if len(segs) == 0 {
		if n.terminal == nil {
			return nil, false
		}
		return &Match{Route: n.terminal, Params: map[string]string{}}, true
	}

	seg := segs[0]
	if child, ok := n.literal[seg]; ok {
		if m, ok := matchRec(child, segs[1:]); ok {
			return m, true
		}
	}
	if n.param != nil {
		if m, ok := matchRec(n.param, segs[1:]); ok {
			if m.Params == nil {
				m.Params = map[string]string{}
			}
			m.Params[n.paramKey] = seg
			return m, true
		}
	}
	if n.wildcard != nil && n.wildcard.terminal != nil {
		return &Match{
			Route:    n.wildcard.terminal,
			Params:   map[string]string{},
			Wildcard: "/" + strings.Join(segs, "/"),
		}, true
	}
	return nil, false
}
