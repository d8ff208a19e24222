// Package query implements the where-clause evaluation and page-walk
// engine described in spec.md §4.6: given a region and a conjunction of
// attribute predicates, it enumerates candidate leaves from the coarse
// index, re-checks partial leaves (and, for a non-box shape, every leaf)
// against the exact region shape, and
// compacts each page's selection through an ordered predicate pass.
package query

import "github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"

// Range is a closed, inclusive numeric predicate; a disabled Range
// matches everything (spec §4.6 "Intensity, elevation, descriptor —
// closed ranges; inclusive both ends").
type Range struct {
	Enabled  bool
	Min, Max float64
}

// Contains reports whether v satisfies r.
func (r Range) Contains(v float64) bool {
	return !r.Enabled || (v >= r.Min && v <= r.Max)
}

// ClassificationFilter is the one-bit-per-code bitmap predicate over the
// classification field.
type ClassificationFilter struct {
	Enabled bool
	Allowed [32]bool
}

// Contains reports whether code satisfies the filter.
func (c ClassificationFilter) Contains(code uint8) bool {
	if !c.Enabled {
		return true
	}
	if int(code) >= len(c.Allowed) {
		return false
	}
	return c.Allowed[code]
}

// Where is a QueryWhere: a conjunction of independently-optional
// predicates (spec §4.6).
type Where struct {
	Region geom.Region

	// Datasets, when non-empty, restricts matches to the listed dataset
	// ids. An empty/nil map means every open dataset is enabled.
	Datasets map[int]bool

	// Segments, when non-empty, restricts matches to the listed segment
	// ids; a point whose segment id isn't a known entry in its Dataset's
	// SegmentCatalog is treated as unsegmented and matches the catalog's
	// default-segment slot instead.
	Segments map[uint32]bool

	// Species and ManagementStatus are resolved via the SegmentCatalog:
	// segment -> species / management status -> allowed?
	Species           map[int]bool
	ManagementStatus  map[int]bool
	Classification    ClassificationFilter
	Intensity         Range
	Elevation         Range
	Descriptor        Range

	// MaximumResults caps the cumulative point count across pages; 0
	// means unlimited (spec §4.6 step 4).
	MaximumResults int
}

// DatasetEnabled reports whether id passes the dataset filter.
func (w Where) DatasetEnabled(id int) bool {
	return len(w.Datasets) == 0 || w.Datasets[id]
}

func (w Where) segmentAllowed(catalog *SegmentCatalog, segmentID uint32) bool {
	if len(w.Segments) == 0 {
		return true
	}
	if catalog != nil {
		if _, known := catalog.Lookup(segmentID); !known {
			segmentID = catalog.DefaultSegment()
		}
	}
	return w.Segments[segmentID]
}

func (w Where) speciesAllowed(catalog *SegmentCatalog, segmentID uint32) bool {
	if len(w.Species) == 0 {
		return true
	}
	if catalog == nil {
		return false
	}
	info, known := catalog.Lookup(segmentID)
	if !known {
		return false
	}
	return w.Species[info.Species]
}

func (w Where) managementStatusAllowed(catalog *SegmentCatalog, segmentID uint32) bool {
	if len(w.ManagementStatus) == 0 {
		return true
	}
	if catalog == nil {
		return false
	}
	info, known := catalog.Lookup(segmentID)
	if !known {
		return false
	}
	return w.ManagementStatus[info.ManagementStatus]
}
