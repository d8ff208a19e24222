package query

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/octreeindex"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/page"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/pagecache"
)

// Dataset is one open dataset's coarse index plus the metadata a query
// needs to resolve and render its pages.
type Dataset struct {
	ID          int
	Tree        *octreeindex.Tree
	Catalog     *SegmentCatalog
	Translation r3.Vector
	ColorSource page.ColorSource
}

// PointHandler is invoked once per matching point, in the ordering
// guarantees of spec §5: pages in camera-distance order, points within a
// page in selection order.
type PointHandler func(ds *Dataset, pg *page.Page, ordinal uint32) error

// Engine runs Where-clause queries against a shared page cache over a
// set of open datasets (spec §4.6, C7).
type Engine struct {
	cache    *pagecache.Cache
	datasets map[int]*Dataset
}

// NewEngine builds a query engine sharing cache across every dataset
// added to it.
func NewEngine(cache *pagecache.Cache) *Engine {
	return &Engine{cache: cache, datasets: make(map[int]*Dataset)}
}

// AddDataset registers ds so subsequent Run calls can select its pages.
func (e *Engine) AddDataset(ds *Dataset) {
	e.datasets[ds.ID] = ds
}

// Run enumerates candidate leaves from every enabled dataset's coarse
// index in eye-distance order, evaluates where against each one, and
// invokes fn for every matching point until MaximumResults is reached
// (spec §4.6 steps 1-4).
func (e *Engine) Run(where Where, eye r3.Vector, fn PointHandler) error {
	ids := make([]int, 0, len(e.datasets))
	for id := range e.datasets {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	total := 0
	for _, id := range ids {
		ds := e.datasets[id]
		if !where.DatasetEnabled(ds.ID) {
			continue
		}
		done, err := e.runDataset(ds, where, eye, fn, &total)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

func (e *Engine) runDataset(ds *Dataset, where Where, eye r3.Vector, fn PointHandler, total *int) (bool, error) {
	if len(ds.Tree.Nodes) == 0 {
		return false, nil
	}

	window := where.Region.Bounds()
	if where.Region.Kind == geom.ShapeNone || window.Empty() {
		window = ds.Tree.RootBox
	}

	var candidates []octreeindex.Selected
	ds.Tree.SelectLeaves(window, &candidates)
	sort.Slice(candidates, func(i, j int) bool {
		di := ds.Tree.NodeBox(candidates[i].Node).Distance(eye)
		dj := ds.Tree.NodeBox(candidates[j].Node).Distance(eye)
		return di < dj
	})

	for _, sel := range candidates {
		stop, err := e.runLeaf(ds, sel, where, fn, total)
		if err != nil {
			return false, err
		}
		if stop {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) runLeaf(ds *Dataset, sel octreeindex.Selected, where Where, fn PointHandler, total *int) (bool, error) {
	ref := pagecache.Ref{DatasetID: ds.ID, PageID: sel.Node}
	pg, err := e.cache.Acquire(ref)
	if err != nil {
		// A page-read failure yields fewer points than expected but
		// never corrupts the cache or other pages (spec §7).
		return false, nil
	}
	defer e.cache.Release(ref)

	pg.SetTranslation(ds.Translation)
	pg.ColorSource = ds.ColorSource

	if err := advanceTo(pg, page.StateTransform); err != nil {
		return false, errors.Wrap(err, "query: advance to TRANSFORM")
	}

	pg.Selection = evaluateSelection(where, ds.Catalog, pg, sel.Partial, where.Region)
	pg.SelectionSize = len(pg.Selection)

	if err := advanceTo(pg, page.StateRunModifiers); err != nil {
		return false, errors.Wrap(err, "query: advance to RUN_MODIFIERS")
	}

	for _, idx := range pg.Selection {
		if err := fn(ds, pg, idx); err != nil {
			return false, err
		}
		*total++
		if where.MaximumResults > 0 && *total >= where.MaximumResults {
			return true, nil
		}
	}
	return false, nil
}

func advanceTo(pg *page.Page, target page.PipelineState) error {
	for pg.State < target {
		if err := pg.Advance(); err != nil {
			return err
		}
	}
	return nil
}

// evaluateSelection runs the per-page selection pass (spec §4.6 steps
// 2-3): re-checking exact containment for partial leaves, and for every
// leaf when the region is not a box (a leaf inside a sphere, cone or
// cylinder's bounding box can still hold points outside the shape), then
// applying the attribute predicates in order classification -> segment ->
// species -> management status -> elevation -> descriptor -> intensity.
func evaluateSelection(where Where, catalog *SegmentCatalog, pg *page.Page, partial bool, region geom.Region) []uint32 {
	n := len(pg.Position)
	sel := make([]uint32, 0, n)
	exact := partial || region.Kind != geom.ShapeBox
	for i := 0; i < n; i++ {
		if exact && !region.Contains(pg.Position[i]) {
			continue
		}
		if !where.Classification.Contains(pg.Classification[i]) {
			continue
		}
		segID := pg.Segment[i]
		if !where.segmentAllowed(catalog, segID) {
			continue
		}
		if !where.speciesAllowed(catalog, segID) {
			continue
		}
		if !where.managementStatusAllowed(catalog, segID) {
			continue
		}
		if !where.Elevation.Contains(float64(pg.Elevation[i])) {
			continue
		}
		if !where.Descriptor.Contains(float64(pg.Descriptor[i])) {
			continue
		}
		if !where.Intensity.Contains(float64(pg.Intensity[i])) {
			continue
		}
		sel = append(sel, uint32(i))
	}
	return sel
}
