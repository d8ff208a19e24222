// Package pagecache implements the byte-bounded LRU decoded-page cache
// described in spec.md §4.4: a map keyed by (dataset, page) over an
// LRU ordering vector, shared by the cache and every live query.
package pagecache

import (
	"container/heap"
	"container/list"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/octreeindex"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/page"
)

// Ref identifies one cache entry: a decoded leaf belonging to one open
// dataset.
type Ref struct {
	DatasetID int
	PageID    octreeindex.NodeRef
}

// Loader materializes a page on a cache miss — reading records, attribute
// streams and the fine-octree sidecar for ref.
type Loader func(ref Ref) (*page.Page, error)

// WriteBack persists a dirty page's per-point modifications before the
// cache drops it (spec §4.4 "On eviction, write_page is called for dirty
// pages before drop").
type WriteBack func(ref Ref, p *page.Page) error

// DatasetRoot is one open dataset's coarse tree, as apply_camera walks
// it to find camera-relevant leaves (spec §4.4 step 1).
type DatasetRoot struct {
	DatasetID int
	Tree      *octreeindex.Tree
}

type entry struct {
	ref      Ref
	pg       *page.Page
	element  *list.Element
	refCount int
	pinned   bool
}

// Stats reports cache occupancy and hit/miss counters.
type Stats struct {
	Entries  int
	Bytes    int64
	Capacity int64
	Hits     int64
	Misses   int64
}

// Cache is the byte-bounded LRU of decoded pages (spec §4.4). All of its
// methods hold a single mutex, standing in for the process-wide dataset
// mutex spec §5 requires around cache/page mutation.
type Cache struct {
	mu sync.Mutex

	capacityBytes int64
	bytes         int64

	entries map[Ref]*entry
	lru     *list.List // front = most recently used

	load      Loader
	writeBack WriteBack

	hits, misses int64
}

// New builds a cache capped at capacityBytes, using load to materialize
// pages on miss and writeBack to persist dirty pages before eviction or
// on Flush.
func New(capacityBytes int64, load Loader, writeBack WriteBack) *Cache {
	return &Cache{
		capacityBytes: capacityBytes,
		entries:       make(map[Ref]*entry),
		lru:           list.New(),
		load:          load,
		writeBack:     writeBack,
	}
}

// Acquire returns the page for ref, loading it on miss, and marks it
// held by the caller so it is not chosen for eviction until Release.
func (c *Cache) Acquire(ref Ref) (*page.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.fetch(ref, false)
	if err != nil {
		return nil, err
	}
	e.refCount++
	return e.pg, nil
}

// Release gives up the caller's hold on ref, making it eligible for
// eviction again once its refcount drops to zero.
func (c *Cache) Release(ref Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[ref]; ok && e.refCount > 0 {
		e.refCount--
	}
}

// fetch returns ref's entry, loading and inserting it on miss. Caller
// must hold c.mu.
func (c *Cache) fetch(ref Ref, pinned bool) (*entry, error) {
	if e, ok := c.entries[ref]; ok {
		c.hits++
		c.lru.MoveToFront(e.element)
		return e, nil
	}
	c.misses++

	pg, err := c.load(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "pagecache: load %+v", ref)
	}
	size := int64(page.SizeInMemory(uint64(len(pg.Position))))

	c.evictUntil(c.capacityBytes - size)

	e := &entry{ref: ref, pg: pg, pinned: pinned}
	e.element = c.lru.PushFront(ref)
	c.entries[ref] = e
	c.bytes += size
	return e, nil
}

// evictUntil evicts unheld, unpinned entries from the back of the LRU
// until the running byte total is at or below target (spec §4.4 step 3),
// or no further entry can be evicted.
func (c *Cache) evictUntil(target int64) {
	for c.bytes > target {
		if !c.evictOldestUnused() {
			return
		}
	}
}

func (c *Cache) evictOldestUnused() bool {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		ref := el.Value.(Ref)
		e := c.entries[ref]
		if e.pinned || e.refCount > 0 {
			continue
		}
		c.dropLocked(e)
		return true
	}
	return false
}

// dropLocked writes back e if dirty, then removes it from the cache.
// Caller must hold c.mu.
func (c *Cache) dropLocked(e *entry) {
	if e.pg.Modified && c.writeBack != nil {
		// A write-back failure must not corrupt the cache; the page is
		// dropped regardless, per spec §7 "a query-time page-read
		// failure yields fewer points than expected but never corrupts
		// the cache or other pages" — the symmetric write-side case.
		_ = c.writeBack(e.ref, e.pg)
	}
	c.lru.Remove(e.element)
	delete(c.entries, e.ref)
	c.bytes -= int64(page.SizeInMemory(uint64(len(e.pg.Position))))
}

// Flush writes back every dirty page still resident and clears their
// Modified flag (spec §4.4, invariant 8 "Write-back").
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if !e.pg.Modified {
			continue
		}
		if c.writeBack != nil {
			if err := c.writeBack(e.ref, e.pg); err != nil {
				return errors.Wrapf(err, "pagecache: flush %+v", e.ref)
			}
		}
		e.pg.Modified = false
	}
	return nil
}

// Stats reports current cache occupancy and hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:  len(c.entries),
		Bytes:    c.bytes,
		Capacity: c.capacityBytes,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

// candidate is one entry of apply_camera's priority queue: a
// (dataset, node) pair ordered by the box-distance-to-eye heuristic
// (spec §4.4 step 1).
type candidate struct {
	score     float64
	datasetID int
	tree      *octreeindex.Tree
	node      octreeindex.NodeRef
}

type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func boxScore(box geom.Box, eye r3.Vector) float64 {
	radius := box.Radius()
	if radius <= 0 {
		return 0
	}
	d := box.Distance(eye)
	if d < 0 {
		d = 0
	}
	return d / radius
}

// ApplyCamera walks every open dataset's coarse tree from its root,
// expanding the candidate with the lowest box_distance_to_eye/box_radius
// score first, skipping boxes disjoint from clip, reusing or loading
// leaves into the cache until the byte cap is reached, and finally
// resetting every resident page's pipeline state to StateRender so the
// next render pass re-emits drawable data with the latest parameters
// (spec §4.4 steps 1-4).
func (c *Cache) ApplyCamera(eye r3.Vector, datasets []DatasetRoot, clip geom.Box) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := &candidateHeap{}
	heap.Init(h)
	for _, d := range datasets {
		if len(d.Tree.Nodes) == 0 {
			continue
		}
		root := d.Tree.Root()
		heap.Push(h, candidate{
			score:     boxScore(d.Tree.RootBox, eye),
			datasetID: d.DatasetID,
			tree:      d.Tree,
			node:      root,
		})
	}

	for h.Len() > 0 && c.bytes < c.capacityBytes {
		cand := heap.Pop(h).(candidate)
		box := cand.tree.NodeBox(cand.node)
		if !box.Intersects(clip) {
			continue
		}

		n := cand.tree.Nodes[cand.node-1]
		if n.IsLeaf() {
			ref := Ref{DatasetID: cand.datasetID, PageID: cand.node}
			pinned := cand.node == cand.tree.Root()
			if _, err := c.fetch(ref, pinned); err != nil {
				// A page-read failure must not corrupt the cache or
				// other pages (spec §7); skip this leaf and continue.
				continue
			}
			continue
		}

		for k := uint8(0); k < 8; k++ {
			child := n.Next[k]
			if child == 0 {
				continue
			}
			heap.Push(h, candidate{
				score:     boxScore(cand.tree.NodeBox(child), eye),
				datasetID: cand.datasetID,
				tree:      cand.tree,
				node:      child,
			})
		}
	}

	for _, e := range c.entries {
		if err := advanceOrResetToRender(e.pg); err != nil {
			return errors.Wrapf(err, "pagecache: reset %+v to RENDER", e.ref)
		}
	}
	return nil
}

// advanceOrResetToRender moves p to StateRender, running the forward
// pipeline for a freshly read page or resetting backward for one that
// had already reached RENDER/RENDERED under stale camera parameters
// (spec §4.5 "any caller may reset the state to an earlier stage").
func advanceOrResetToRender(p *page.Page) error {
	for p.State < page.StateRender {
		if err := p.Advance(); err != nil {
			return err
		}
	}
	if p.State > page.StateRender {
		return p.Reset(page.StateRender)
	}
	return nil
}
