package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Table is a live node table: the set of named node definitions an engine
// executes against. Overrides merge into it atomically; readers receive
// shared snapshots that must be treated as read-only, since every merge
// replaces the stored node wholesale.
type Table struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewTable returns an empty node table.
func NewTable() *Table {
	return &Table{nodes: make(map[string]*Node)}
}

// Get returns the current definition of the named node.
func (t *Table) Get(name string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[name]
	return n, ok
}

// Len returns the number of nodes in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Names returns the node names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set stores a node definition directly, replacing any previous one.
func (t *Table) Set(name string, n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[name] = n
}

// Override merges a wire-format override document into the table. Every
// patch is merged and validated before anything is committed; on error the
// table is unchanged.
func (t *Table) Override(data []byte) error {
	doc, err := ParseDocument(data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make(map[string]*Node, len(doc))
	for name, patch := range doc {
		next, err := Merge(t.nodes[name], patch)
		if err != nil {
			return fmt.Errorf("node %q: %w", name, err)
		}
		merged[name] = next
	}

	for name, n := range merged {
		if err := t.checkReferences(name, n, merged); err != nil {
			return err
		}
	}

	for name, n := range merged {
		t.nodes[name] = n
	}
	return nil
}

// OverrideNext replaces the named node's entire next list. Unlike Override,
// this never merges element-by-element.
func (t *Table) OverrideNext(name string, next []NodeAttr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.nodes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	clone, err := prev.Clone()
	if err != nil {
		return err
	}
	clone.Next = next
	if err := t.checkReferences(name, clone, nil); err != nil {
		return err
	}
	t.nodes[name] = clone
	return nil
}

// checkReferences verifies that every next/on_error entry names a node
// present in the table or in the batch being committed. Callers hold the
// lock.
func (t *Table) checkReferences(name string, n *Node, pending map[string]*Node) error {
	check := func(attrs []NodeAttr, field string) error {
		for _, attr := range attrs {
			if _, ok := t.nodes[attr.Name]; ok {
				continue
			}
			if _, ok := pending[attr.Name]; ok {
				continue
			}
			return fmt.Errorf("node %q: %s: %w: %s", name, field, ErrBadReference, attr.Name)
		}
		return nil
	}
	if err := check(n.Next, "next"); err != nil {
		return err
	}
	return check(n.OnError, "on_error")
}
