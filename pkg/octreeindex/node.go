// Package octreeindex implements the two-level coarse/fine octree index
// described in spec.md §3 and §4.1: a variable-fanout spatial tree,
// compiled to a flat array of fixed-size nodes addressed by 1-based
// references so the array can be relocated and serialized without
// chasing pointers (spec §9 "raw node pointers in a flat array").
package octreeindex

import (
	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
)

// NodeRef is a 1-based reference into a Tree's Nodes slice; 0 means
// "absent" (no child) or "no parent" (root's Prev).
type NodeRef uint32

// Node is one coarse-tree (or fine-tree) node: a page when it is a leaf.
// Next/Prev are array references, never raw pointers, so relocation on
// append never invalidates a live reference (spec §9).
type Node struct {
	From      uint64         // first point ordinal covered by this node
	Size      uint64         // number of point ordinals covered
	Prev      NodeRef        // parent; 0 for the root
	Next      [8]NodeRef     // children by octant index; 0 = absent
	Offset    uint64         // byte offset of this leaf's fine octree in the sidecar (0 for interior nodes and for the coarse tree's own root)
	ChildMask uint8          // bit k set iff Next[k] != 0
}

// IsLeaf reports whether n has no children — i.e. it is a page.
func (n *Node) IsLeaf() bool { return n.ChildMask == 0 }

// HasChild reports whether octant k is populated.
func (n *Node) HasChild(k uint8) bool { return n.ChildMask&(1<<k) != 0 }

// Tree is a compiled, read-only two-level octree index. Build it with
// BuildBegin/Insert/BuildEnd; once built it never mutates except for the
// leaf Offset fields the builder fills in during NODE_INSERT (and writes
// back to the sidecar at NODE_END).
type Tree struct {
	Nodes     []Node
	RootBox   geom.Box // cube enclosing the dataset (coarse index) or the tight leaf box (fine index)
	PointsBox geom.Box // the observed, non-cubic bounding box of the actual points (coarse index only)
}

// Root returns the reference to the tree's root node. A Tree built by
// BuildEnd always has at least the root, so Root is valid whenever
// len(Nodes) > 0.
func (t *Tree) Root() NodeRef { return 1 }

func (t *Tree) node(ref NodeRef) *Node {
	if ref == 0 {
		return nil
	}
	return &t.Nodes[ref-1]
}

// NodeBox reconstructs a node's box by walking parent links up to the
// root, accumulating octant bits, then re-descending from the root box
// (spec §4.1 node_box).
func (t *Tree) NodeBox(ref NodeRef) geom.Box {
	var path []uint8
	cur := ref
	for cur != t.Root() {
		n := t.node(cur)
		parent := t.node(n.Prev)
		var bits uint8
		for k := uint8(0); k < 8; k++ {
			if parent.Next[k] == cur {
				bits = k
				break
			}
		}
		path = append(path, bits)
		cur = n.Prev
	}
	box := t.RootBox
	for i := len(path) - 1; i >= 0; i-- {
		box = box.Octant(path[i])
	}
	return box
}

// PointInBox reconstructs whether p lies in ref's box via NodeBox; used
// by tests and by callers without the on-path box already in hand.
func (t *Tree) PointInBox(ref NodeRef, p r3.Vector) bool {
	return t.NodeBox(ref).Contains(p)
}
