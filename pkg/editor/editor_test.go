package editor

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/builder"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/lasfile"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/page"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/query"
)

func writeSampleInput(t *testing.T, path string, pts []r3.Vector) {
	t.Helper()
	f, err := lasfile.Create(path, 1, 2, uint64(len(pts)))
	if err != nil {
		t.Fatalf("create input: %v", err)
	}
	f.Header.ScaleX, f.Header.ScaleY, f.Header.ScaleZ = 0.001, 0.001, 0.001
	bounds := geom.EmptyBox()
	for i, p := range pts {
		x, y, z := f.ToRecordCoords(p)
		if err := f.WriteRecord(uint64(i), lasfile.Point{X: x, Y: y, Z: z, Intensity: 100, Classification: 2}); err != nil {
			t.Fatalf("write record %d: %v", i, err)
		}
		bounds = bounds.Extend(p)
	}
	f.SetBounds(bounds)
	if err := f.RewriteHeader(); err != nil {
		t.Fatalf("rewrite header: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close input: %v", err)
	}

	attrs, err := lasfile.CreateAttributeStreams(path, uint64(len(pts)))
	if err != nil {
		t.Fatalf("create attribute streams: %v", err)
	}
	if err := attrs.Close(); err != nil {
		t.Fatalf("close attribute streams: %v", err)
	}
}

func buildSampleDataset(t *testing.T, dir string, pts []r3.Vector) string {
	t.Helper()
	inputPath := filepath.Join(dir, "in.lasf")
	outputPath := filepath.Join(dir, "out.lasf")
	writeSampleInput(t, inputPath, pts)

	settings := builder.DefaultSettings()
	settings.MaxIndexL1Size = 4
	settings.MaxIndexL2Size = 2
	if err := BuildIndex(inputPath, outputPath, settings); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	return outputPath
}

// TestWriteBackPersistsAcrossReopen exercises spec.md's testable
// write-back property: a query sets segment=42 on a handful of points
// spread across more than one page; after flush and reopening the
// dataset in a fresh handle, re-querying segment=42 returns exactly
// those points.
func TestWriteBackPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	pts := make([]r3.Vector, 0, 64)
	for i := 0; i < 64; i++ {
		pts = append(pts, r3.Vector{
			X: float64(i%4) + 0.5,
			Y: float64((i/4)%4) + 0.5,
			Z: float64((i/16)%4) + 0.5,
		})
	}
	outputPath := buildSampleDataset(t, dir, pts)

	h, err := OpenEditor([]string{outputPath}, 1<<20)
	if err != nil {
		t.Fatalf("OpenEditor: %v", err)
	}

	const targetSegment = uint32(42)
	eye := r3.Vector{X: -1, Y: -1, Z: -1}
	marked := make(map[r3.Vector]bool)

	where := query.Where{MaximumResults: 5}
	err = h.RunQuery(where, eye, func(path string, pg *page.Page, ordinal uint32) error {
		pg.Segment[ordinal] = targetSegment
		pg.Modified = true
		marked[pg.Position[ordinal]] = true
		return nil
	})
	if err != nil {
		t.Fatalf("RunQuery (mark): %v", err)
	}
	if len(marked) != 5 {
		t.Fatalf("expected to mark exactly 5 distinct points, got %d", len(marked))
	}

	if err := h.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	h2, err := OpenEditor([]string{outputPath}, 1<<20)
	if err != nil {
		t.Fatalf("reopen OpenEditor: %v", err)
	}
	defer h2.Close()

	segWhere := query.Where{Segments: map[uint32]bool{targetSegment: true}}
	var reread int
	err = h2.RunQuery(segWhere, eye, func(path string, pg *page.Page, ordinal uint32) error {
		if !marked[pg.Position[ordinal]] {
			t.Fatalf("point %v returned for segment %d was not one of the originally marked points", pg.Position[ordinal], targetSegment)
		}
		reread++
		return nil
	})
	if err != nil {
		t.Fatalf("RunQuery (reread): %v", err)
	}
	if reread != 5 {
		t.Fatalf("expected exactly 5 points with segment=%d after reopen, got %d", targetSegment, reread)
	}
}

// TestRunQueryClassificationPredicate checks a plain attribute predicate
// without any mutation, and that RunQuery reports the correct dataset
// path back to the callback.
func TestRunQueryClassificationPredicate(t *testing.T) {
	dir := t.TempDir()
	pts := []r3.Vector{
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 1.5, Y: 1.5, Z: 1.5},
		{X: 2.5, Y: 2.5, Z: 2.5},
	}
	outputPath := buildSampleDataset(t, dir, pts)

	h, err := OpenEditor([]string{outputPath}, 1<<20)
	if err != nil {
		t.Fatalf("OpenEditor: %v", err)
	}
	defer h.Close()

	var filter query.ClassificationFilter
	filter.Enabled = true
	filter.Allowed[2] = true
	where := query.Where{Classification: filter}

	var got int
	err = h.RunQuery(where, r3.Vector{}, func(path string, pg *page.Page, ordinal uint32) error {
		if path != outputPath {
			t.Fatalf("callback path = %q, want %q", path, outputPath)
		}
		if pg.Classification[ordinal] != 2 {
			t.Fatalf("expected classification 2, got %d", pg.Classification[ordinal])
		}
		got++
		return nil
	})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if got != len(pts) {
		t.Fatalf("expected %d matching points, got %d", len(pts), got)
	}
}
