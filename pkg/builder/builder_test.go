package builder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/lasfile"
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

func TestBuilderRunsToCompletion(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.lasf")
	outputPath := filepath.Join(dir, "out.lasf")

	pts := make([]r3.Vector, 0, 64)
	for i := 0; i < 64; i++ {
		pts = append(pts, r3.Vector{
			X: float64(i%4) + 0.5,
			Y: float64((i/4)%4) + 0.5,
			Z: float64((i/16)%4) + 0.5,
		})
	}
	writeSampleInput(t, inputPath, pts)

	settings := DefaultSettings()
	settings.MaxIndexL1Size = 8
	settings.MaxIndexL2Size = 2

	b, err := Open(inputPath, outputPath, settings)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var last Progress
	for i := 0; i < 10000; i++ {
		p, err := b.Next(50 * time.Millisecond)
		if err != nil {
			t.Fatalf("Next at state %v: %v", p.State, err)
		}
		last = p
		if p.Done {
			break
		}
	}
	if !last.Done {
		t.Fatal("builder did not reach completion within the iteration budget")
	}

	out, err := lasfile.Open(outputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()

	if out.Header.PointCount() != uint64(len(pts)) {
		t.Fatalf("expected %d points in output, got %d", len(pts), out.Header.PointCount())
	}

	seen := make([]bool, len(pts))
	for i := uint64(0); i < out.Header.PointCount(); i++ {
		rec, err := out.ReadRecord(i)
		if err != nil {
			t.Fatalf("read output record %d: %v", i, err)
		}
		v := out.Unscaled(rec)
		for j, want := range pts {
			if !seen[j] && v.Sub(want).Norm() < 0.01 {
				seen[j] = true
				break
			}
		}
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("input point %d not found in reordered output", i)
		}
	}
}
