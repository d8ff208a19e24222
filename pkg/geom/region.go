package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// ShapeKind identifies the region shape used by a query's selection (§4.6).
type ShapeKind int

const (
	ShapeNone ShapeKind = iota
	ShapeBox
	ShapeCone
	ShapeCylinder
	ShapeSphere
)

// Region is a spatial predicate with an associated axis-aligned bounding
// box used for coarse/fine octree pruning (§4.1, §4.6).
type Region struct {
	Kind ShapeKind
	Box  Box // BOX shape, or bounding box for CONE/CYLINDER/SPHERE

	// Sphere, and circular cross-section center for Cylinder.
	Center r3.Vector
	Radius float64

	// Cone: apex and opening axis/half-angle, bounded along the axis by Box.
	Apex  r3.Vector
	Axis  r3.Vector
	Angle float64
}

// Bounds returns the region's axis-aligned bounding box, used to prune the
// coarse and fine octrees before the exact containment test runs.
func (r Region) Bounds() Box {
	if r.Kind == ShapeNone {
		return EmptyBox()
	}
	return r.Box
}

// Contains runs the exact (non-box) containment test for the region kind.
// isInside semantics per spec §4.6: min <= p <= max, inclusive.
func (r Region) Contains(p r3.Vector) bool {
	switch r.Kind {
	case ShapeNone:
		return true
	case ShapeBox:
		return r.Box.Contains(p)
	case ShapeSphere:
		return r.containsSphere(p)
	case ShapeCylinder:
		return r.containsCylinder(p)
	case ShapeCone:
		return r.containsCone(p)
	default:
		return false
	}
}

func (r Region) containsSphere(p r3.Vector) bool {
	dx := p.X - r.Center.X
	dy := p.Y - r.Center.Y
	dz := p.Z - r.Center.Z
	d2 := dx*dx + dy*dy + dz*dz
	return d2 <= r.Radius*r.Radius
}

func (r Region) containsCylinder(p r3.Vector) bool {
	if p.Z < r.Box.Min.Z || p.Z > r.Box.Max.Z {
		return false
	}
	dx := p.X - r.Center.X
	dy := p.Y - r.Center.Y
	return dx*dx+dy*dy <= r.Radius*r.Radius
}

func (r Region) containsCone(p r3.Vector) bool {
	if !r.Box.Contains(p) {
		return false
	}
	ax := normalize(r.Axis)
	vx, vy, vz := p.X-r.Apex.X, p.Y-r.Apex.Y, p.Z-r.Apex.Z
	along := vx*ax.X + vy*ax.Y + vz*ax.Z
	if along < 0 {
		return false
	}
	perp2 := (vx*vx + vy*vy + vz*vz) - along*along
	if perp2 < 0 {
		perp2 = 0
	}
	allowed := along * math.Tan(r.Angle)
	return perp2 <= allowed*allowed
}

func normalize(v r3.Vector) r3.Vector {
	n := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	if n == 0 {
		return v
	}
	return r3.Vector{X: v.X / n, Y: v.Y / n, Z: v.Z / n}
}
