// Package geom provides the axis-aligned box and region primitives shared
// by the octree index, the page pipeline, and the query engine.
package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// Box is an axis-aligned bounding box in dataset (unscaled double) space.
type Box struct {
	Min r3.Vector
	Max r3.Vector
}

// EmptyBox returns a box with inverted bounds, so that the first Extend
// call establishes real limits.
func EmptyBox() Box {
	inf := math.Inf(1)
	return Box{
		Min: r3.Vector{X: inf, Y: inf, Z: inf},
		Max: r3.Vector{X: -inf, Y: -inf, Z: -inf},
	}
}

// NewBox builds a box from explicit min/max corners.
func NewBox(min, max r3.Vector) Box {
	return Box{Min: min, Max: max}
}

// Empty reports whether the box has not been extended to cover any point.
func (b Box) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Contains reports whether p lies inside the box, inclusive on both ends.
func (b Box) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Intersects reports whether b and other share at least one point.
func (b Box) Intersects(other Box) bool {
	return b.Min.X <= other.Max.X && b.Max.X >= other.Min.X &&
		b.Min.Y <= other.Max.Y && b.Max.Y >= other.Min.Y &&
		b.Min.Z <= other.Max.Z && b.Max.Z >= other.Min.Z
}

// Inside reports whether b lies entirely inside other.
func (b Box) Inside(other Box) bool {
	return b.Min.X >= other.Min.X && b.Max.X <= other.Max.X &&
		b.Min.Y >= other.Min.Y && b.Max.Y <= other.Max.Y &&
		b.Min.Z >= other.Min.Z && b.Max.Z <= other.Max.Z
}

// Extend grows the box, if needed, to cover p.
func (b Box) Extend(p r3.Vector) Box {
	if p.X < b.Min.X {
		b.Min.X = p.X
	}
	if p.Y < b.Min.Y {
		b.Min.Y = p.Y
	}
	if p.Z < b.Min.Z {
		b.Min.Z = p.Z
	}
	if p.X > b.Max.X {
		b.Max.X = p.X
	}
	if p.Y > b.Max.Y {
		b.Max.Y = p.Y
	}
	if p.Z > b.Max.Z {
		b.Max.Z = p.Z
	}
	return b
}

// ExtendBox grows b, if needed, to cover other.
func (b Box) ExtendBox(other Box) Box {
	if other.Empty() {
		return b
	}
	b = b.Extend(other.Min)
	b = b.Extend(other.Max)
	return b
}

// Center returns the box's midpoint.
func (b Box) Center() r3.Vector {
	return r3.Vector{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Length returns the box's extent along axis (0=x, 1=y, 2=z).
func (b Box) Length(axis int) float64 {
	switch axis {
	case 0:
		return b.Max.X - b.Min.X
	case 1:
		return b.Max.Y - b.Min.Y
	default:
		return b.Max.Z - b.Min.Z
	}
}

// Radius returns half the box's diagonal, the radius of its bounding sphere.
func (b Box) Radius() float64 {
	dx, dy, dz := b.Length(0), b.Length(1), b.Length(2)
	return math.Sqrt(dx*dx+dy*dy+dz*dz) / 2
}

// Distance returns the distance from p to the closest point of the box,
// zero if p is inside.
func (b Box) Distance(p r3.Vector) float64 {
	dx := axisDistance(p.X, b.Min.X, b.Max.X)
	dy := axisDistance(p.Y, b.Min.Y, b.Max.Y)
	dz := axisDistance(p.Z, b.Min.Z, b.Max.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func axisDistance(v, min, max float64) float64 {
	if v < min {
		return min - v
	}
	if v > max {
		return v - max
	}
	return 0
}

// Cube returns a cube box centered on b.Center() whose side is b's longest
// axis, the shape the index builder uses for the coarse index's root box.
func (b Box) Cube() Box {
	side := math.Max(b.Length(0), math.Max(b.Length(1), b.Length(2)))
	half := side / 2
	c := b.Center()
	return Box{
		Min: r3.Vector{X: c.X - half, Y: c.Y - half, Z: c.Z - half},
		Max: r3.Vector{X: c.X + half, Y: c.Y + half, Z: c.Z + half},
	}
}

// Octant returns the child box produced by halving b along every axis and
// descending into the octant coded by bits (bit0=x, bit1=y, bit2=z; 1 = high half).
func (b Box) Octant(bits uint8) Box {
	c := b.Center()
	min, max := b.Min, b.Max
	if bits&1 != 0 {
		min.X = c.X
	} else {
		max.X = c.X
	}
	if bits&2 != 0 {
		min.Y = c.Y
	} else {
		max.Y = c.Y
	}
	if bits&4 != 0 {
		min.Z = c.Z
	} else {
		max.Z = c.Z
	}
	return Box{Min: min, Max: max}
}

// OctantBits returns the octant bits for point p relative to box b's center,
// using the tie-break rule from spec.md §9(i): a coordinate exactly equal
// to the center goes to the low half.
func (b Box) OctantBits(p r3.Vector) uint8 {
	c := b.Center()
	var bits uint8
	if p.X > c.X {
		bits |= 1
	}
	if p.Y > c.Y {
		bits |= 2
	}
	if p.Z > c.Z {
		bits |= 4
	}
	return bits
}
