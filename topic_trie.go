package mqttclient

import (
	"slices"
	"strings"
)

// Trie maps topic filters to values and matches published topics against
// them. Each level of a filter is one node; a node keeps its exact children,
// a single-level '+' child and the values of a '#' filter ending there.
//
// Filters of the form $share/<group>/<filter> form a share group on the
// node of <filter>; Match returns exactly one member of each matching group,
// chosen round-robin.
//
// A Trie is not safe for concurrent use.
type Trie[T comparable] struct {
	root trieNode[T]
	size int
}

type trieNode[T comparable] struct {
	children map[string]*trieNode[T]
	single   *trieNode[T]
	exact    trieEntries[T]
	multi    trieEntries[T]
}

type trieEntries[T comparable] struct {
	values []T
	groups map[string]*shareGroup[T]
}

type shareGroup[T comparable] struct {
	members []T
	next    int
}

// NewTrie creates an empty trie.
func NewTrie[T comparable]() *Trie[T] {
	return &Trie[T]{}
}

// Len returns the number of registered (filter, value) pairs.
func (t *Trie[T]) Len() int {
	return t.size
}

// Insert registers v under filter. Inserting the same pair twice is a no-op.
func (t *Trie[T]) Insert(filter string, v T) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}
	group, inner, _ := ParseSharedSubscription(filter)

	entries := t.root.entriesFor(strings.Split(inner, topicSeparator), true)
	if entries.add(group, v) {
		t.size++
	}
	return nil
}

// Remove unregisters v from filter and reports whether it was present.
func (t *Trie[T]) Remove(filter string, v T) bool {
	group, inner, err := ParseSharedSubscription(filter)
	if err != nil {
		return false
	}
	removed := t.root.remove(strings.Split(inner, topicSeparator), group, v)
	if removed {
		t.size--
	}
	return removed
}

// Match returns the values of every filter matching topic. Topics with
// wildcards match nothing.
func (t *Trie[T]) Match(topic string) []T {
	if ValidateTopicName(topic) != nil {
		return nil
	}
	var m matcher[T]
	levels := strings.Split(topic, topicSeparator)
	m.walk(&t.root, levels, strings.HasPrefix(topic, "$"))
	return m.values
}

func (n *trieNode[T]) entriesFor(levels []string, create bool) *trieEntries[T] {
	node := n
	for i, level := range levels {
		if level == multiLevelWildcard && i == len(levels)-1 {
			return &node.multi
		}
		next := node.child(level, create)
		if next == nil {
			return nil
		}
		node = next
	}
	return &node.exact
}

func (n *trieNode[T]) child(level string, create bool) *trieNode[T] {
	if level == singleLevelWildcard {
		if n.single == nil && create {
			n.single = &trieNode[T]{}
		}
		return n.single
	}
	c, ok := n.children[level]
	if !ok && create {
		if n.children == nil {
			n.children = make(map[string]*trieNode[T])
		}
		c = &trieNode[T]{}
		n.children[level] = c
	}
	return c
}

func (n *trieNode[T]) empty() bool {
	return len(n.children) == 0 && n.single == nil && n.exact.empty() && n.multi.empty()
}

// remove deletes v and prunes nodes left empty on the way back up.
func (n *trieNode[T]) remove(levels []string, group string, v T) bool {
	if len(levels) == 0 {
		return n.exact.remove(group, v)
	}
	level := levels[0]
	if level == multiLevelWildcard && len(levels) == 1 {
		return n.multi.remove(group, v)
	}

	next := n.child(level, false)
	if next == nil || !next.remove(levels[1:], group, v) {
		return false
	}
	if next.empty() {
		if level == singleLevelWildcard {
			n.single = nil
		} else {
			delete(n.children, level)
		}
	}
	return true
}

func (e *trieEntries[T]) empty() bool {
	return len(e.values) == 0 && len(e.groups) == 0
}

func (e *trieEntries[T]) add(group string, v T) bool {
	if group == "" {
		if slices.Contains(e.values, v) {
			return false
		}
		e.values = append(e.values, v)
		return true
	}
	if e.groups == nil {
		e.groups = make(map[string]*shareGroup[T])
	}
	g, ok := e.groups[group]
	if !ok {
		g = &shareGroup[T]{}
		e.groups[group] = g
	}
	if slices.Contains(g.members, v) {
		return false
	}
	g.members = append(g.members, v)
	return true
}

func (e *trieEntries[T]) remove(group string, v T) bool {
	if group == "" {
		i := slices.Index(e.values, v)
		if i < 0 {
			return false
		}
		e.values = slices.Delete(e.values, i, i+1)
		return true
	}
	g, ok := e.groups[group]
	if !ok {
		return false
	}
	i := slices.Index(g.members, v)
	if i < 0 {
		return false
	}
	g.members = slices.Delete(g.members, i, i+1)
	if len(g.members) == 0 {
		delete(e.groups, group)
	} else if g.next >= len(g.members) {
		g.next = 0
	}
	return true
}

type matcher[T comparable] struct {
	values []T
}

func (m *matcher[T]) collect(e *trieEntries[T]) {
	m.values = append(m.values, e.values...)
	for _, g := range e.groups {
		m.values = append(m.values, g.members[g.next%len(g.members)])
		g.next = (g.next + 1) % len(g.members)
	}
}

// walk matches the remaining levels below n. dollar suppresses wildcard
// matches on the first level for topics such as $SYS/...
func (m *matcher[T]) walk(n *trieNode[T], levels []string, dollar bool) {
	if !dollar {
		m.collect(&n.multi)
	}
	if len(levels) == 0 {
		m.collect(&n.exact)
		return
	}
	if c, ok := n.children[levels[0]]; ok {
		m.walk(c, levels[1:], false)
	}
	if n.single != nil && !dollar {
		m.walk(n.single, levels[1:], false)
	}
}
