// Package voxel implements the output-sensitive Z-order voxel iterator
// described in spec.md §4.7: it walks a region's voxel grid, asking a
// single-result existence query before descending into any sub-box, and
// yields only the non-empty unit cells.
package voxel

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
)

// ExistenceQuery answers whether any point lies within box, standing in
// for a single-result (max_results=1) query against the point engine
// (spec §4.7).
type ExistenceQuery func(box geom.Box) (bool, error)

// Cell is one yielded non-empty unit voxel: its grid index and the
// world-space box it occupies.
type Cell struct {
	X, Y, Z int
	Box     geom.Box
}

// gridBox is a pending sub-box in grid-index space: half-open ranges
// [X1,X2) x [Y1,Y2) x [Z1,Z2).
type gridBox struct {
	X1, X2, Y1, Y2, Z1, Z2 int
}

func (b gridBox) extent(axis int) int {
	switch axis {
	case 0:
		return b.X2 - b.X1
	case 1:
		return b.Y2 - b.Y1
	default:
		return b.Z2 - b.Z1
	}
}

func (b gridBox) isUnit() bool {
	return b.extent(0) == 1 && b.extent(1) == 1 && b.extent(2) == 1
}

// Iterator is a resumable, output-sensitive walk over a region's voxel
// grid (spec §4.7). Construct with New, drive with Next.
type Iterator struct {
	region  geom.Box
	edge    [3]float64
	n       [3]int
	query   ExistenceQuery
	stack   []gridBox
	Visited int // sub-boxes popped so far: yielded cells, skipped boxes and split boxes
}

// New computes grid dimensions (nx, ny, nz) from region and the target
// voxel edge length, clamped to [1, 999999], and derives the exact
// per-axis edge lengths region.length(a)/n_a (spec §4.7).
func New(region geom.Box, targetEdge float64, query ExistenceQuery) *Iterator {
	it := &Iterator{region: region, query: query}
	for axis := 0; axis < 3; axis++ {
		length := region.Length(axis)
		n := gridDim(length, targetEdge)
		it.n[axis] = n
		it.edge[axis] = length / float64(n)
	}
	it.stack = []gridBox{{X1: 0, X2: it.n[0], Y1: 0, Y2: it.n[1], Z1: 0, Z2: it.n[2]}}
	return it
}

func gridDim(length, targetEdge float64) int {
	n := 1
	if targetEdge > 0 {
		n = int(math.Round(length / targetEdge))
	}
	if n < 1 {
		n = 1
	}
	if n > 999999 {
		n = 999999
	}
	return n
}

// Next pops pending sub-boxes until it yields a non-empty unit cell or
// the walk is exhausted. Each popped sub-box, unit cells included, costs
// exactly one ExistenceQuery call (spec §4.7 "the client query is asked
// whether any point lies in its world-space box").
func (it *Iterator) Next() (Cell, bool, error) {
	for len(it.stack) > 0 {
		b := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		it.Visited++

		hasAny, err := it.query(it.worldBox(b))
		if err != nil {
			return Cell{}, false, err
		}
		if !hasAny {
			continue // skipped in one shot; already counted in Visited
		}

		if b.isUnit() {
			return Cell{X: b.X1, Y: b.Y1, Z: b.Z1, Box: it.worldBox(b)}, true, nil
		}

		it.pushChildren(b)
	}
	return Cell{}, false, nil
}

func (it *Iterator) worldBox(b gridBox) geom.Box {
	min := r3.Vector{
		X: it.region.Min.X + float64(b.X1)*it.edge[0],
		Y: it.region.Min.Y + float64(b.Y1)*it.edge[1],
		Z: it.region.Min.Z + float64(b.Z1)*it.edge[2],
	}
	max := r3.Vector{
		X: it.region.Min.X + float64(b.X2)*it.edge[0],
		Y: it.region.Min.Y + float64(b.Y2)*it.edge[1],
		Z: it.region.Min.Z + float64(b.Z2)*it.edge[2],
	}
	return geom.NewBox(min, max)
}

// pushChildren splits b and pushes its children in reverse Z-order so
// that popping the stack yields them in forward order.
//
// Redesigned from the source's unconditional eight-way split (only
// sound when dx≈dy≈dz): when b is not near-cubic in world-space extent,
// split along its single longest axis instead, producing two children;
// fall back to the eight-way split only when b's three world-space
// extents are already close to equal.
func (it *Iterator) pushChildren(b gridBox) {
	worldLen := [3]float64{
		float64(b.extent(0)) * it.edge[0],
		float64(b.extent(1)) * it.edge[1],
		float64(b.extent(2)) * it.edge[2],
	}

	if b.extent(0) > 1 && b.extent(1) > 1 && b.extent(2) > 1 && nearCubic(worldLen) {
		it.pushOctants(b)
		return
	}
	it.pushAlongLongestAxis(b, worldLen)
}

const nearCubicTolerance = 1.05

func nearCubic(len [3]float64) bool {
	min, max := len[0], len[0]
	for _, v := range len[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min <= 0 {
		return false
	}
	return max/min <= nearCubicTolerance
}

func (it *Iterator) pushAlongLongestAxis(b gridBox, worldLen [3]float64) {
	axis := 0
	best := -1.0
	for a := 0; a < 3; a++ {
		if b.extent(a) <= 1 {
			continue
		}
		if worldLen[a] > best {
			best = worldLen[a]
			axis = a
		}
	}

	lo, hi := b, b
	switch axis {
	case 0:
		mid := b.X1 + (b.X2-b.X1)/2
		lo.X2, hi.X1 = mid, mid
	case 1:
		mid := b.Y1 + (b.Y2-b.Y1)/2
		lo.Y2, hi.Y1 = mid, mid
	default:
		mid := b.Z1 + (b.Z2-b.Z1)/2
		lo.Z2, hi.Z1 = mid, mid
	}

	// Push hi first so lo pops first, matching forward order.
	it.stack = append(it.stack, hi, lo)
}

func (it *Iterator) pushOctants(b gridBox) {
	midX := b.X1 + (b.X2-b.X1)/2
	midY := b.Y1 + (b.Y2-b.Y1)/2
	midZ := b.Z1 + (b.Z2-b.Z1)/2

	// k's bits select low/high half per axis: bit0=x, bit1=y, bit2=z,
	// the same convention the coarse/fine octree uses.
	for k := 7; k >= 0; k-- {
		child := gridBox{}
		if k&1 == 0 {
			child.X1, child.X2 = b.X1, midX
		} else {
			child.X1, child.X2 = midX, b.X2
		}
		if k&2 == 0 {
			child.Y1, child.Y2 = b.Y1, midY
		} else {
			child.Y1, child.Y2 = midY, b.Y2
		}
		if k&4 == 0 {
			child.Z1, child.Z2 = b.Z1, midZ
		} else {
			child.Z1, child.Z2 = midZ, b.Z2
		}
		it.stack = append(it.stack, child)
	}
}
