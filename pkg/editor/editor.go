// Package editor is the core's top-level programmatic API (spec.md
// §6.3): build an index, open one or more built datasets behind a
// shared page cache, and run where-clause queries against them. The
// GUI shell and CLI are external collaborators over this surface.
package editor

import (
	"os"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/builder"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/lasfile"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/octreeindex"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/page"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/pagecache"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/query"
)

// sidecarExt is the index sidecar's file extension relative to a
// dataset's point-record file, matching the builder's own convention
// (spec §6.2).
const sidecarExt = ".idx"

// BuildIndex drives a builder to completion against inputPath, writing
// outputPath and its sidecar (spec §6.3 "build_index ... blocking when
// driven to completion").
func BuildIndex(inputPath, outputPath string, settings builder.Settings) error {
	b, err := builder.Open(inputPath, outputPath, settings)
	if err != nil {
		return errors.Wrap(err, "editor: open builder")
	}
	return b.Run(50 * time.Millisecond)
}

// dataset is one open, built dataset: its point file, attribute
// streams, sidecar and coarse tree.
type dataset struct {
	id      int
	path    string
	file    *lasfile.File
	attrs   *lasfile.AttributeStreams
	sidecar *os.File
	tree    *octreeindex.Tree
}

// Handle is the editor handle returned by OpenEditor: a set of open
// datasets behind one shared page cache and query engine.
type Handle struct {
	cache        *pagecache.Cache
	engine       *query.Engine
	datasets     map[int]*dataset
	pathToID     map[string]int
	queryDatasets map[int]*query.Dataset
}

// OpenEditor opens every dataset at datasetPaths (each a point file
// previously produced by BuildIndex) behind a cache capped at
// cacheBytes, and returns a handle onto which queries may be issued
// (spec §6.3).
func OpenEditor(datasetPaths []string, cacheBytes int64) (*Handle, error) {
	h := &Handle{
		datasets:      make(map[int]*dataset),
		pathToID:      make(map[string]int),
		queryDatasets: make(map[int]*query.Dataset),
	}

	for i, p := range datasetPaths {
		ds, err := openDataset(i, p)
		if err != nil {
			h.Close()
			return nil, errors.Wrapf(err, "editor: open dataset %s", p)
		}
		h.datasets[i] = ds
		h.pathToID[p] = i
	}

	h.cache = pagecache.New(cacheBytes, h.load, h.writeBack)
	h.engine = query.NewEngine(h.cache)
	for _, ds := range h.datasets {
		qds := &query.Dataset{
			ID:          ds.id,
			Tree:        ds.tree,
			Translation: ds.tree.RootBox.Min,
			ColorSource: page.ColorSourceRGB,
		}
		h.engine.AddDataset(qds)
		h.queryDatasets[ds.id] = qds
	}
	return h, nil
}

func openDataset(id int, path string) (*dataset, error) {
	f, err := lasfile.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open point file")
	}
	attrs, err := lasfile.OpenAttributeStreams(path)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "open attribute streams")
	}
	sidecar, err := os.Open(path + sidecarExt)
	if err != nil {
		f.Close()
		attrs.Close()
		return nil, errors.Wrap(err, "open sidecar")
	}
	tree, err := octreeindex.ReadChunk(sidecar)
	if err != nil {
		f.Close()
		attrs.Close()
		sidecar.Close()
		return nil, errors.Wrap(err, "read coarse index")
	}
	return &dataset{id: id, path: path, file: f, attrs: attrs, sidecar: sidecar, tree: tree}, nil
}

// SetColorSource changes the color source a dataset's pages render with
// (spec §6.3 "color_source").
func (h *Handle) SetColorSource(datasetPath string, source page.ColorSource) error {
	id, ok := h.pathToID[datasetPath]
	if !ok {
		return errors.Errorf("editor: unknown dataset %s", datasetPath)
	}
	h.queryDatasets[id].ColorSource = source
	return nil
}

// load materializes a page for the cache on miss (spec §4.5 READ).
func (h *Handle) load(ref pagecache.Ref) (*page.Page, error) {
	ds, ok := h.datasets[ref.DatasetID]
	if !ok {
		return nil, errors.Errorf("editor: unknown dataset id %d", ref.DatasetID)
	}
	if int(ref.PageID) < 1 || int(ref.PageID) > len(ds.tree.Nodes) {
		return nil, errors.Errorf("editor: page %d out of range for dataset %d", ref.PageID, ref.DatasetID)
	}
	node := ds.tree.Nodes[ref.PageID-1]
	return page.Read(ds.file, ds.attrs, ds.sidecar, ref.DatasetID, ref.PageID, node.From, node.Size, node.Offset)
}

// writeBack persists a dirty page's per-point attribute fields — the
// only fields queries are permitted to mutate (segment id, voxel
// back-reference, and classification) — before the cache drops it
// (spec §4.4 "write_page is called for dirty pages before drop", spec
// §3 "Point records ... immutable on disk thereafter except for
// per-point attribute fields").
func (h *Handle) writeBack(ref pagecache.Ref, pg *page.Page) error {
	ds, ok := h.datasets[ref.DatasetID]
	if !ok {
		return errors.Errorf("editor: unknown dataset id %d", ref.DatasetID)
	}
	node := ds.tree.Nodes[ref.PageID-1]
	for i := uint64(0); i < node.Size; i++ {
		ordinal := node.From + i
		if err := ds.attrs.Segment.Set(ordinal, pg.Segment[i]); err != nil {
			return errors.Wrap(err, "write segment")
		}
		if err := ds.attrs.Voxel.Set(ordinal, pg.Voxel[i]); err != nil {
			return errors.Wrap(err, "write voxel")
		}
		rec, err := ds.file.ReadRecord(ordinal)
		if err != nil {
			return errors.Wrap(err, "read record for classification write-back")
		}
		if rec.Classification == pg.Classification[i] {
			continue
		}
		rec.Classification = pg.Classification[i]
		if err := ds.file.WriteRecord(ordinal, rec); err != nil {
			return errors.Wrap(err, "write classification")
		}
	}
	return nil
}

// RunQuery invokes callback for each point matching where, advancing
// pages through the pipeline in camera-distance order (spec §6.3
// "run_query").
func (h *Handle) RunQuery(where query.Where, eye r3.Vector, callback func(datasetPath string, pg *page.Page, ordinal uint32) error) error {
	return h.engine.Run(where, eye, func(ds *query.Dataset, pg *page.Page, ordinal uint32) error {
		return callback(h.datasets[ds.ID].path, pg, ordinal)
	})
}

// ApplyCamera reprioritizes the cache's resident pages for eye within
// clip, loading newly visible leaves and evicting stale ones (spec
// §4.4).
func (h *Handle) ApplyCamera(eye r3.Vector, clip geom.Box) error {
	roots := make([]pagecache.DatasetRoot, 0, len(h.datasets))
	for _, ds := range h.datasets {
		roots = append(roots, pagecache.DatasetRoot{DatasetID: ds.id, Tree: ds.tree})
	}
	return h.cache.ApplyCamera(eye, roots, clip)
}

// Flush writes back every dirty page across every open dataset (spec
// §6.3, invariant 8).
func (h *Handle) Flush() error {
	return h.cache.Flush()
}

// Close flushes and releases every open dataset's file handles.
func (h *Handle) Close() error {
	var firstErr error
	if h.cache != nil {
		if err := h.cache.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, ds := range h.datasets {
		if ds.file != nil {
			if err := ds.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if ds.attrs != nil {
			if err := ds.attrs.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if ds.sidecar != nil {
			if err := ds.sidecar.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
