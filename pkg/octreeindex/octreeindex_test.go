package octreeindex

import (
	"testing"

	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
)

func cubePoints() []r3.Vector {
	return []r3.Vector{
		{X: 0, Y: 0, Z: 0}, {X: 4, Y: 0, Z: 0},
		{X: 0, Y: 4, Z: 0}, {X: 4, Y: 4, Z: 0},
		{X: 0, Y: 0, Z: 4}, {X: 4, Y: 0, Z: 4},
		{X: 0, Y: 4, Z: 4}, {X: 4, Y: 4, Z: 4},
	}
}

func TestEightCornerCubeEachLeafSizeOne(t *testing.T) {
	bounds := geom.NewBox(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 4, Y: 4, Z: 4})
	loader := BuildBegin(bounds, 1, 2, false)
	for _, p := range cubePoints() {
		loader.Insert(p)
	}
	tree := loader.BuildEnd()

	var leaves int
	for i := range tree.Nodes {
		if tree.Nodes[i].IsLeaf() {
			leaves++
			if tree.Nodes[i].Size != 1 {
				t.Fatalf("expected every leaf to hold exactly one point, got %d", tree.Nodes[i].Size)
			}
		}
	}
	if leaves != 8 {
		t.Fatalf("expected 8 leaves, got %d", leaves)
	}

	var out []Selected
	tree.SelectLeaves(bounds, &out)
	if len(out) != 8 {
		t.Fatalf("expected 8 selected leaves, got %d", len(out))
	}
	for _, s := range out {
		if s.Partial {
			t.Fatal("expected every leaf fully inside the query box to report partial=false")
		}
	}
}

func TestPartitionInvariant(t *testing.T) {
	bounds := geom.NewBox(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 8, Y: 8, Z: 8})
	loader := BuildBegin(bounds, 4, 6, false)
	pts := make([]r3.Vector, 0, 200)
	for i := 0; i < 200; i++ {
		pts = append(pts, r3.Vector{
			X: float64(i%8) + 0.1,
			Y: float64((i/8)%8) + 0.1,
			Z: float64((i/64)%8) + 0.1,
		})
	}
	for _, p := range pts {
		loader.Insert(p)
	}
	tree := loader.BuildEnd()

	var checkNode func(ref NodeRef)
	checkNode = func(ref NodeRef) {
		n := tree.node(ref)
		if n.IsLeaf() {
			return
		}
		var size uint64
		first := true
		var from uint64
		for k := uint8(0); k < 8; k++ {
			if !n.HasChild(k) {
				continue
			}
			child := tree.node(n.Next[k])
			if first {
				from = child.From
				first = false
			}
			size += child.Size
			checkNode(n.Next[k])
		}
		if size != n.Size {
			t.Fatalf("node %d: size %d != sum of children %d", ref, n.Size, size)
		}
		if from != n.From {
			t.Fatalf("node %d: from %d != first child's from %d", ref, n.From, from)
		}
	}
	checkNode(tree.Root())

	if tree.Nodes[tree.Root()-1].Size != uint64(len(pts)) {
		t.Fatalf("root size %d != total points %d", tree.Nodes[tree.Root()-1].Size, len(pts))
	}
}

func TestSelectLeafMatchesReconstructedBox(t *testing.T) {
	bounds := geom.NewBox(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 8, Y: 8, Z: 8})
	loader := BuildBegin(bounds, 2, 5, false)
	pts := cubePoints()
	for i := range pts {
		pts[i] = r3.Vector{X: pts[i].X * 2, Y: pts[i].Y * 2, Z: pts[i].Z * 2}
	}
	for _, p := range pts {
		loader.Insert(p)
	}
	tree := loader.BuildEnd()

	for _, p := range pts {
		leaf := tree.SelectLeaf(p)
		box := tree.NodeBox(leaf)
		if !box.Contains(p) {
			t.Fatalf("reconstructed box for leaf %d does not contain point %v", leaf, p)
		}
	}
}

func TestSelectNodeWithUsedRoutesAllPoints(t *testing.T) {
	bounds := geom.NewBox(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 8, Y: 8, Z: 8})
	loader := BuildBegin(bounds, 3, 5, false)
	pts := make([]r3.Vector, 0, 50)
	for i := 0; i < 50; i++ {
		pts = append(pts, r3.Vector{X: float64(i % 7), Y: float64((i * 3) % 7), Z: float64((i * 5) % 7)})
	}
	for _, p := range pts {
		loader.Insert(p)
	}
	tree := loader.BuildEnd()

	used := make([]uint64, len(tree.Nodes))
	ordinals := make(map[NodeRef]uint64)
	for _, p := range pts {
		leaf := tree.SelectNodeWithUsed(used, p)
		ordinal := tree.Nodes[leaf-1].From + used[leaf-1] - 1
		if ordinals[leaf] == 0 {
			ordinals[leaf] = 0
		}
		_ = ordinal
	}
	for i := range tree.Nodes {
		if tree.Nodes[i].IsLeaf() && used[i] != tree.Nodes[i].Size {
			t.Fatalf("leaf %d: used %d != size %d", i+1, used[i], tree.Nodes[i].Size)
		}
	}
}

func TestOnlyToLeavesDepthFirstLayout(t *testing.T) {
	bounds := geom.NewBox(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 2, Y: 2, Z: 2})
	loader := BuildBegin(bounds, 1, 3, true)
	pts := cubePoints()
	for i := range pts {
		pts[i] = r3.Vector{X: pts[i].X / 2, Y: pts[i].Y / 2, Z: pts[i].Z / 2}
	}
	for _, p := range pts {
		loader.Insert(p)
	}
	tree := loader.BuildEnd()

	root := tree.node(tree.Root())
	if root.Size != uint64(len(pts)) {
		t.Fatalf("root size %d != %d", root.Size, len(pts))
	}
	if root.From != 0 {
		t.Fatalf("root from should be 0, got %d", root.From)
	}
}
