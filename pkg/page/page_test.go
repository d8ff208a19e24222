package page

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/lasfile"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/octreeindex"
)

func writeTestRecords(t *testing.T, path string, pts []r3.Vector) *lasfile.File {
	t.Helper()
	f, err := lasfile.Create(path, 2, 2, uint64(len(pts)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Header.ScaleX, f.Header.ScaleY, f.Header.ScaleZ = 0.001, 0.001, 0.001
	bounds := geom.EmptyBox()
	for i, p := range pts {
		x, y, z := f.ToRecordCoords(p)
		rec := lasfile.Point{X: x, Y: y, Z: z, Intensity: uint16(1000 * (i + 1)), Classification: 5, Color: [3]uint16{10, 20, 30}}
		if err := f.WriteRecord(uint64(i), rec); err != nil {
			t.Fatalf("write record %d: %v", i, err)
		}
		bounds = bounds.Extend(p)
	}
	f.SetBounds(bounds)
	if err := f.RewriteHeader(); err != nil {
		t.Fatalf("rewrite header: %v", err)
	}
	return f
}

func buildFineSidecar(t *testing.T, bounds geom.Box, pts []r3.Vector) ([]byte, uint64) {
	t.Helper()
	loader := octreeindex.BuildBegin(bounds, 4, 6, true)
	for _, p := range pts {
		loader.Insert(p)
	}
	tree := loader.BuildEnd()

	var buf bytes.Buffer
	// a leading pad byte stands in for a preceding coarse-tree chunk, so the
	// leaf offset under test is nonzero (offset 0 means "no fine octree").
	buf.WriteByte(0)
	offset := uint64(buf.Len())
	if _, err := octreeindex.WriteChunk(&buf, tree); err != nil {
		t.Fatalf("write sidecar chunk: %v", err)
	}
	return buf.Bytes(), offset
}

func TestReadAndAdvancePipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.lasf")

	pts := []r3.Vector{
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 1.5, Y: 1.5, Z: 1.5},
		{X: 2.5, Y: 2.5, Z: 2.5},
		{X: 3.5, Y: 3.5, Z: 3.5},
	}
	f := writeTestRecords(t, path, pts)
	defer f.Close()

	attrs, err := lasfile.CreateAttributeStreams(path, uint64(len(pts)))
	if err != nil {
		t.Fatalf("create attribute streams: %v", err)
	}
	defer attrs.Close()
	for i := range pts {
		if err := attrs.Segment.Set(uint64(i), uint32(i+1)); err != nil {
			t.Fatalf("set segment: %v", err)
		}
		if err := attrs.Elevation.Set(uint64(i), float32(i)); err != nil {
			t.Fatalf("set elevation: %v", err)
		}
	}

	bounds := geom.NewBox(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 4, Y: 4, Z: 4})
	sidecarBytes, offset := buildFineSidecar(t, bounds, pts)
	sidecar := bytes.NewReader(sidecarBytes)

	pg, err := Read(f, attrs, sidecar, 0, octreeindex.NodeRef(1), 0, uint64(len(pts)), offset)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pg.State != StateRead {
		t.Fatalf("expected StateRead, got %v", pg.State)
	}
	if pg.Fine == nil || len(pg.Fine.Nodes) == 0 {
		t.Fatal("expected a populated fine octree")
	}
	if len(pg.Position) != len(pts) {
		t.Fatalf("expected %d points, got %d", len(pts), len(pg.Position))
	}
	for i, p := range pts {
		if pg.Position[i].Sub(p).Norm() > 0.01 {
			t.Fatalf("point %d mismatch: got %v, want %v", i, pg.Position[i], p)
		}
	}
	if pg.Segment[2] != 3 {
		t.Fatalf("expected segment 3 at ordinal 2, got %d", pg.Segment[2])
	}

	pg.SetTranslation(r3.Vector{X: 1, Y: 1, Z: 1})
	pg.Selection = []uint32{0, 1, 2, 3}
	pg.ColorSource = ColorSourceSegment

	for _, want := range []PipelineState{StateTransform, StateSelect, StateRunModifiers, StateRender, StateRendered} {
		if err := pg.Advance(); err != nil {
			t.Fatalf("Advance to %v: %v", want, err)
		}
		if pg.State != want {
			t.Fatalf("expected state %v, got %v", want, pg.State)
		}
	}

	if len(pg.RenderPosition) != len(pts) {
		t.Fatal("RenderPosition not populated by TRANSFORM")
	}
	got := pg.RenderPosition[1]
	want := [3]float32{0.5, 0.5, 0.5}
	if got != want {
		t.Fatalf("expected translated render position %v, got %v", want, got)
	}

	if len(pg.RenderColor) != len(pts) {
		t.Fatal("RenderColor not populated by RUN_MODIFIERS")
	}

	// Advancing past RENDERED is a no-op, not an error.
	if err := pg.Advance(); err != nil {
		t.Fatalf("advance past RENDERED: %v", err)
	}
	if pg.State != StateRendered {
		t.Fatalf("expected to stay at RENDERED, got %v", pg.State)
	}

	if err := pg.Reset(StateSelect); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if pg.State != StateSelect {
		t.Fatalf("expected StateSelect after reset, got %v", pg.State)
	}
	if err := pg.Reset(StateRender); err == nil {
		t.Fatal("expected an error resetting forward from SELECT to RENDER")
	}
}

func TestRenderColorSources(t *testing.T) {
	pg := &Page{
		Intensity:      []uint16{0, 65535},
		Classification: []uint8{2, 2},
		Segment:        []uint32{7, 7},
		Elevation:      []float32{0, 30},
		Descriptor:     []float32{0, 1},
		Color:          [][3]uint16{{0, 0, 0}, {65535, 65535, 65535}},
	}

	cases := []struct {
		name   string
		source ColorSource
	}{
		{"rgb", ColorSourceRGB},
		{"intensity", ColorSourceIntensity},
		{"classification", ColorSourceClassification},
		{"segment", ColorSourceSegment},
		{"elevation", ColorSourceElevation},
		{"descriptor", ColorSourceDescriptor},
		{"uniform", ColorSourceUniform},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			pg.ColorSource = c.source
			color := pg.renderColorFor(0)
			for _, v := range color {
				if v < 0 || v > 1.5 {
					t.Fatalf("color component out of expected range: %v", color)
				}
			}
		})
	}
}
