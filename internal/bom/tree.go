package bom

import "strconv"

const noParent = -1

// entry is one arena slot. Children are indices into Tree.entries.
type entry struct {
	node     Node // Children is always nil inside the arena
	parent   int
	children []int
	sequence int    // 1-based position among siblings
	path     string // items[0].children[2]
	key      string // 1.3
}

// Tree is an index-based BOM tree. Entries are stored in pre-order, so a parent
// index is always smaller than the indices of its descendants.
type Tree struct {
	entries []entry
	roots   []int
}

type frame struct {
	node   *Node
	parent int
	seq    int
	path   string
	key    string
}

// NewTree copies nested items into an arena without checking them.
func NewTree(items []Node) *Tree {
	t := &Tree{}
	t.walk(items, func(int, *Node) bool { return true })
	return t
}

// walk flattens items depth first. descend decides, per appended entry, whether its
// children are visited.
func (t *Tree) walk(items []Node, descend func(idx int, n *Node) bool) {
	stack := make([]frame, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		stack = append(stack, frame{
			node:   &items[i],
			parent: noParent,
			seq:    i + 1,
			path:   "items[" + strconv.Itoa(i) + "]",
			key:    strconv.Itoa(i + 1),
		})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := *f.node
		n.Children = nil
		n.Level = 0
		if f.parent != noParent {
			n.Level = t.entries[f.parent].node.Level + 1
		}
		idx := len(t.entries)
		t.entries = append(t.entries, entry{
			node:     n,
			parent:   f.parent,
			sequence: f.seq,
			path:     f.path,
			key:      f.key,
		})
		if f.parent == noParent {
			t.roots = append(t.roots, idx)
		} else {
			t.entries[f.parent].children = append(t.entries[f.parent].children, idx)
		}
		if !descend(idx, f.node) {
			continue
		}
		kids := f.node.Children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				node:   &kids[i],
				parent: idx,
				seq:    i + 1,
				path:   f.path + ".children[" + strconv.Itoa(i) + "]",
				key:    f.key + "." + strconv.Itoa(i+1),
			})
		}
	}
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.entries) }

// Roots returns the indices of the root nodes in submission order.
func (t *Tree) Roots() []int { return t.roots }

// Node returns the arena copy of node i (without children).
func (t *Tree) Node(i int) Node { return t.entries[i].node }

// Parent returns the index of the parent of node i, or -1 for a root.
func (t *Tree) Parent(i int) int { return t.entries[i].parent }

// Children returns the child indices of node i in submission order.
func (t *Tree) Children(i int) []int { return t.entries[i].children }

// Sequence returns the 1-based sibling position of node i.
func (t *Tree) Sequence(i int) int { return t.entries[i].sequence }

// Walk calls fn for every node in pre-order. Returning false stops the walk.
func (t *Tree) Walk(fn func(idx int, n Node) bool) {
	for i := range t.entries {
		if !fn(i, t.entries[i].node) {
			return
		}
	}
}

// Nodes rebuilds the nested form of the tree.
func (t *Tree) Nodes() []Node {
	out := make([]Node, 0, len(t.roots))
	for _, r := range t.roots {
		out = append(out, t.nested(r))
	}
	return out
}

func (t *Tree) nested(i int) Node {
	n := t.entries[i].node
	n.Children = make([]Node, 0, len(t.entries[i].children))
	for _, c := range t.entries[i].children {
		n.Children = append(n.Children, t.nested(c))
	}
	return n
}

// isAncestor reports whether a is an ancestor of d (or d itself).
func (t *Tree) isAncestor(a, d int) bool {
	for cur := d; cur != noParent; cur = t.entries[cur].parent {
		if cur == a {
			return true
		}
	}
	return false
}
