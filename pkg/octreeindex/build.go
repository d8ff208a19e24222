package octreeindex

import (
	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
)

// maxLevelCap is the implementation cap referenced by spec §4.1's failure
// semantics: out-of-range levels (0 or greater than this cap) are clamped.
const maxLevelCap = 17

func clampLevel(level int) int {
	if level <= 0 || level > maxLevelCap {
		return maxLevelCap
	}
	return level
}

// buildNode is the pointer-based tree used only during bulk insertion;
// BuildEnd compiles it into a flat, relocation-safe Tree and discards it.
// A node is a leaf for as long as it has no children, and buffers every
// point it absorbs directly in pending; the moment it gains its first
// child (split), those buffered points are redistributed into children
// so a non-leaf's point count is always the true sum of its children's
// (spec §8 "leaves partition the point set" — no point may be counted
// at a node that is later reported as an interior node's own total).
type buildNode struct {
	count    uint64
	pending  []r3.Vector
	children [8]*buildNode
	level    int
}

// BulkLoader accumulates points into a variable-fanout tree. Construct one
// with BuildBegin, feed it points with Insert, and call BuildEnd once to
// obtain the compiled, read-only Tree (spec §4.1).
type BulkLoader struct {
	root         *buildNode
	bounds       geom.Box
	maxSize      uint64
	maxLevel     int
	onlyToLeaves bool
	ended        bool
}

// BuildBegin starts a bulk insertion pass over bounds. maxSize bounds how
// many points a node may absorb before subsequent inserts must descend
// into children (ignored when onlyToLeaves is set, since those trees
// never stop growing at an interior node). maxLevel is clamped per
// clampLevel.
func BuildBegin(bounds geom.Box, maxSize uint64, maxLevel int, onlyToLeaves bool) *BulkLoader {
	return &BulkLoader{
		root:         &buildNode{},
		bounds:       bounds,
		maxSize:      maxSize,
		maxLevel:     clampLevel(maxLevel),
		onlyToLeaves: onlyToLeaves,
	}
}

// Insert routes p into the build tree, growing it as needed, and returns
// an encoded descent path (a "morton code"): a leading sentinel bit
// followed by three octant bits per level descended, most significant
// level first. Insert after BuildEnd is an invariant violation.
func (b *BulkLoader) Insert(p r3.Vector) uint64 {
	if b.ended {
		panic("octreeindex: insert after build_end")
	}
	_, code := b.route(b.root, p, b.bounds, 1)
	return code
}

// route absorbs p at node, or descends into (creating if needed) the
// child for p's octant. A still-leaf node under capacity just buffers
// p; one that would overflow splits first, pushing its buffered points
// down into real children, before routing p itself the same way.
func (b *BulkLoader) route(node *buildNode, p r3.Vector, box geom.Box, code uint64) (*buildNode, uint64) {
	for {
		node.count++

		if !node.hasChildren() {
			atCap := !b.onlyToLeaves && node.count <= b.maxSize
			atDepth := node.level >= b.maxLevel
			if atCap || atDepth {
				node.pending = append(node.pending, p)
				return node, code
			}
			b.split(node, box)
		}

		bits := box.OctantBits(p)
		if node.children[bits] == nil {
			node.children[bits] = &buildNode{level: node.level + 1}
		}
		code = code<<3 | uint64(bits)
		node = node.children[bits]
		box = box.Octant(bits)
	}
}

// split gives node its first child and re-routes every point it had
// buffered directly so far into the child tree, so node's own pending
// buffer is empty from this point on — it has become a pure router.
func (b *BulkLoader) split(node *buildNode, box geom.Box) {
	pending := node.pending
	node.pending = nil
	for _, q := range pending {
		bits := box.OctantBits(q)
		child := node.children[bits]
		if child == nil {
			child = &buildNode{level: node.level + 1}
			node.children[bits] = child
		}
		b.route(child, q, box.Octant(bits), 0)
	}
}

// BuildEnd compiles the accumulated build tree into a flat array. When
// onlyToLeaves is false the array is laid out breadth-first; when true
// (per-leaf fine octrees) it is laid out depth-first, in the same order
// the leaves themselves appear, so a parent's From equals its first
// leaf descendant's From (spec §4.1 "depth-first leaf-only layout").
// The loader must not be used again afterward.
func (b *BulkLoader) BuildEnd() *Tree {
	b.ended = true

	var nodes []Node
	if b.onlyToLeaves {
		nodes = serializeDepthFirst(b.root)
	} else {
		nodes = serializeBreadthFirst(b.root)
	}

	return &Tree{Nodes: nodes, RootBox: b.bounds}
}

func (n *buildNode) hasChildren() bool {
	for _, c := range n.children {
		if c != nil {
			return true
		}
	}
	return false
}

// serializeBreadthFirst lays nodes out level by level, and separately
// assigns contiguous From ranges via a depth-first leaf walk so storage
// order and point-ordinal order can differ.
func serializeBreadthFirst(root *buildNode) []Node {
	type queued struct {
		b    *buildNode
		prev NodeRef
		slot uint8
	}

	nodes := make([]Node, 0)
	index := make(map[*buildNode]NodeRef)

	queue := []queued{{b: root, prev: 0}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		nodes = append(nodes, Node{Prev: item.prev})
		ref := NodeRef(len(nodes))
		index[item.b] = ref

		if item.prev != 0 {
			parent := &nodes[item.prev-1]
			parent.Next[item.slot] = ref
			parent.ChildMask |= 1 << item.slot
		}

		for k := 0; k < 8; k++ {
			child := item.b.children[k]
			if child == nil {
				continue
			}
			queue = append(queue, queued{b: child, prev: ref, slot: uint8(k)})
		}
	}

	var fill func(b *buildNode)
	var cursor uint64
	fill = func(b *buildNode) {
		ref := index[b]
		n := &nodes[ref-1]
		if !b.hasChildren() {
			n.From = cursor
			n.Size = b.count
			cursor += b.count
			return
		}
		from := cursor
		var size uint64
		for k := 0; k < 8; k++ {
			child := b.children[k]
			if child == nil {
				continue
			}
			before := cursor
			fill(child)
			size += cursor - before
		}
		n.From = from
		n.Size = size
	}
	fill(root)

	return nodes
}

// serializeDepthFirst lays nodes out in pre-order, octant by octant,
// which is also the order used to assign From ranges — exactly the
// layout spec §4.1 requires for only_to_leaves trees.
func serializeDepthFirst(root *buildNode) []Node {
	nodes := make([]Node, 0)
	var cursor uint64

	var walk func(b *buildNode, prev NodeRef, slot uint8) NodeRef
	walk = func(b *buildNode, prev NodeRef, slot uint8) NodeRef {
		nodes = append(nodes, Node{Prev: prev})
		ref := NodeRef(len(nodes))
		if prev != 0 {
			parent := &nodes[prev-1]
			parent.Next[slot] = ref
			parent.ChildMask |= 1 << slot
		}

		if !b.hasChildren() {
			n := &nodes[ref-1]
			n.From = cursor
			n.Size = b.count
			cursor += b.count
			return ref
		}

		from := cursor
		var size uint64
		for k := 0; k < 8; k++ {
			child := b.children[k]
			if child == nil {
				continue
			}
			before := cursor
			walk(child, ref, uint8(k))
			size += cursor - before
		}
		n := &nodes[ref-1]
		n.From = from
		n.Size = size
		return ref
	}

	walk(root, 0, 0)
	return nodes
}
