package octreeindex

import (
	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
)

// Selected is one hit from SelectLeaves/SelectNodes: a candidate page or
// node, and whether its box is only partially covered by the query
// window (spec §4.1 selection pruning).
type Selected struct {
	Node    NodeRef
	Partial bool
}

// SelectLeaves appends every leaf whose box intersects window to out,
// pruning subtrees that are fully inside or fully disjoint.
func (t *Tree) SelectLeaves(window geom.Box, out *[]Selected) {
	t.selectWalk(t.Root(), t.RootBox, window, true, out)
}

// SelectNodes is SelectLeaves but emits every node visited, leaf or not,
// along the pruned recursion (spec §4.1).
func (t *Tree) SelectNodes(window geom.Box, out *[]Selected) {
	t.selectWalk(t.Root(), t.RootBox, window, false, out)
}

func (t *Tree) selectWalk(ref NodeRef, box geom.Box, window geom.Box, leavesOnly bool, out *[]Selected) bool {
	n := t.node(ref)

	if box.Inside(window) {
		if !leavesOnly || n.IsLeaf() {
			*out = append(*out, Selected{Node: ref, Partial: false})
		} else {
			t.emitAllLeaves(ref, out)
		}
		return true
	}
	if !box.Intersects(window) {
		return false
	}

	if !leavesOnly {
		*out = append(*out, Selected{Node: ref, Partial: true})
	}

	recursed := false
	for k := uint8(0); k < 8; k++ {
		if !n.HasChild(k) {
			continue
		}
		childBox := box.Octant(k)
		if t.selectWalk(n.Next[k], childBox, window, leavesOnly, out) {
			recursed = true
		}
	}

	if leavesOnly && !recursed && n.IsLeaf() {
		*out = append(*out, Selected{Node: ref, Partial: true})
	}
	return true
}

// emitAllLeaves appends every leaf under ref, unconditionally, used once
// a subtree is already known to be fully inside the query window.
func (t *Tree) emitAllLeaves(ref NodeRef, out *[]Selected) {
	n := t.node(ref)
	if n.IsLeaf() {
		*out = append(*out, Selected{Node: ref, Partial: false})
		return
	}
	for k := uint8(0); k < 8; k++ {
		if n.HasChild(k) {
			t.emitAllLeaves(n.Next[k], out)
		}
	}
}

// SelectLeaf descends to the leaf whose box contains (x, y, z).
func (t *Tree) SelectLeaf(p r3.Vector) NodeRef {
	ref := t.Root()
	box := t.RootBox
	for {
		n := t.node(ref)
		if n.IsLeaf() {
			return ref
		}
		bits := box.OctantBits(p)
		child := n.Next[bits]
		if child == 0 {
			return ref
		}
		ref = child
		box = box.Octant(bits)
	}
}

// SelectNodeWithUsed descends the unique path containing p and returns
// the deepest node whose counter in used has not yet reached its
// capacity (the node's Size), incrementing that counter on the returned
// node. It is the routing primitive the builder's MAIN_SORT state uses
// to place each point at leaf.From + used[leaf] - 1 (spec §4.1, §4.3).
func (t *Tree) SelectNodeWithUsed(used []uint64, p r3.Vector) NodeRef {
	ref := t.Root()
	box := t.RootBox
	for {
		n := t.node(ref)
		if n.IsLeaf() {
			used[ref-1]++
			return ref
		}
		bits := box.OctantBits(p)
		child := n.Next[bits]
		if child == 0 || used[child-1] >= t.node(child).Size {
			used[ref-1]++
			return ref
		}
		ref = child
		box = box.Octant(bits)
	}
}
