// Package ahocorasick implements a case-insensitive, ASCII Aho-Corasick
// multi-pattern automaton: build once from a set of needles, then stream a
// haystack through it in O(n + z) time (n = haystack length, z = number of
// matches).
//
// Grounded on the trie + BFS-failure-link construction shown in the
// cartographus cache package, generalized to report matches by needle index
// (internal/ruleset maps indices back to Rules) instead of carrying opaque
// per-pattern payloads.
package ahocorasick

import "strings"

// Match is one needle match ending (inclusive) at End, with length Len so
// the caller can compute the start offset without re-scanning.
type Match struct {
	NeedleIndex int
	End         int
	Len         int
}

type node struct {
	children map[byte]*node
	failure  *node
	output   []int // needle indices completing at this node
	depth    int
}

func newNode(depth int) *node {
	return &node{children: make(map[byte]*node), depth: depth}
}

// Automaton is immutable once Build returns; safe for unlimited concurrent
// Search calls without synchronization.
type Automaton struct {
	root    *node
	needles []string // lowercased, for Len() lookups by index
}

// Builder accumulates needles before compiling an Automaton.
type Builder struct {
	needles []string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers needle and returns its stable index within the eventual
// Automaton. Empty needles are rejected by the caller (internal/ruleset),
// not here.
func (b *Builder) Add(needle string) int {
	idx := len(b.needles)
	b.needles = append(b.needles, strings.ToLower(needle))
	return idx
}

// Len reports how many needles have been registered so far.
func (b *Builder) Len() int { return len(b.needles) }

// Build compiles the trie and failure links into an immutable Automaton.
func (b *Builder) Build() *Automaton {
	root := newNode(0)
	for i, needle := range b.needles {
		insert(root, needle, i)
	}
	buildFailureLinks(root)
	return &Automaton{root: root, needles: b.needles}
}

func insert(root *node, needle string, idx int) {
	if needle == "" {
		return
	}
	n := root
	for i := 0; i < len(needle); i++ {
		c := needle[i]
		child, ok := n.children[c]
		if !ok {
			child = newNode(n.depth + 1)
			n.children[c] = child
		}
		n = child
	}
	n.output = append(n.output, idx)
}

func buildFailureLinks(root *node) {
	var queue []*node
	for _, child := range root.children {
		child.failure = root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for c, child := range cur.children {
			queue = append(queue, child)

			fail := cur.failure
			for fail != nil {
				if _, ok := fail.children[c]; ok {
					break
				}
				fail = fail.failure
			}

			if fail == nil {
				child.failure = root
			} else {
				child.failure = fail.children[c]
				child.output = append(child.output, child.failure.output...)
			}
		}
	}
}

// NeedleLen returns the length of the needle registered at idx.
func (a *Automaton) NeedleLen(idx int) int { return len(a.needles[idx]) }

// Empty reports whether the automaton has no needles, i.e. Search will
// never report a match.
func (a *Automaton) Empty() bool { return len(a.root.children) == 0 }

// Search streams haystack (assumed already lowercased by the caller, since
// internal/matcher normalizes the URL once up front rather than paying for
// per-call case folding here) through the automaton and invokes fn for every
// match, in order of occurrence. fn may be called multiple times per
// position if several needles end there. Search performs no allocation.
func (a *Automaton) Search(haystack string, fn func(Match)) {
	if a.Empty() {
		return
	}
	n := a.root
	for i := 0; i < len(haystack); i++ {
		c := haystack[i]
		for n != nil && n.children[c] == nil {
			n = n.failure
		}
		if n == nil {
			n = a.root
			continue
		}
		n = n.children[c]
		for _, idx := range n.output {
			fn(Match{NeedleIndex: idx, End: i, Len: a.NeedleLen(idx)})
		}
	}
}
