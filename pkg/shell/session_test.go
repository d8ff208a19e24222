package shell

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

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

func TestParseQueryArgsClassificationAndMax(t *testing.T) {
	where, eye, err := parseQueryArgs([]string{"classification=2,5", "max=10", "eye=1,2,3"})
	if err != nil {
		t.Fatalf("parseQueryArgs: %v", err)
	}
	if !where.Classification.Enabled || !where.Classification.Allowed[2] || !where.Classification.Allowed[5] {
		t.Fatalf("expected classification filter enabled for codes 2 and 5, got %+v", where.Classification)
	}
	if where.MaximumResults != 10 {
		t.Fatalf("expected max=10, got %d", where.MaximumResults)
	}
	if eye != (r3.Vector{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("expected eye (1,2,3), got %v", eye)
	}
}

func TestParseQueryArgsSphere(t *testing.T) {
	where, _, err := parseQueryArgs([]string{"sphere=1,2,3,0.5"})
	if err != nil {
		t.Fatalf("parseQueryArgs: %v", err)
	}
	if where.Region.Kind != geom.ShapeSphere {
		t.Fatalf("expected sphere region, got kind %v", where.Region.Kind)
	}
	if where.Region.Center != (r3.Vector{X: 1, Y: 2, Z: 3}) || where.Region.Radius != 0.5 {
		t.Fatalf("unexpected sphere region %+v", where.Region)
	}
}

func TestParseQueryArgsRejectsUnknownKey(t *testing.T) {
	if _, _, err := parseQueryArgs([]string{"bogus=1"}); err == nil {
		t.Fatal("expected an error for an unknown query key")
	}
}

func TestParseQueryArgsRejectsMalformedTuple(t *testing.T) {
	if _, _, err := parseQueryArgs([]string{"sphere=1,2,3"}); err == nil {
		t.Fatal("expected an error for a sphere with only 3 values")
	}
}

// TestSessionBuildOpenQueryFlush drives a full shell session end to end
// through stdin-style input, mirroring a real interactive run.
func TestSessionBuildOpenQueryFlush(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.lasf")
	outputPath := filepath.Join(dir, "out.lasf")

	pts := make([]r3.Vector, 0, 32)
	for i := 0; i < 32; i++ {
		pts = append(pts, r3.Vector{X: float64(i%4) + 0.5, Y: float64((i/4)%4) + 0.5, Z: 0.5})
	}
	writeSampleInput(t, inputPath, pts)

	script := strings.Join([]string{
		".build " + inputPath + " " + outputPath,
		".open " + outputPath,
		".query classification=2 max=5",
		".flush",
		".exit",
	}, "\n") + "\n"

	var out, errOut bytes.Buffer
	session := NewSession(strings.NewReader(script), &out, &errOut)
	session.Run()
	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if errOut.Len() != 0 {
		t.Fatalf("unexpected error output: %s", errOut.String())
	}
	if !strings.Contains(out.String(), "built ") {
		t.Fatalf("expected build confirmation, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "opened 1 dataset(s)") {
		t.Fatalf("expected open confirmation, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "5 point(s) matched") {
		t.Fatalf("expected 5 points matched (capped by max=5), got: %s", out.String())
	}
	if !strings.Contains(out.String(), "flushed") {
		t.Fatalf("expected flush confirmation, got: %s", out.String())
	}
}

func TestSessionUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	session := NewSession(strings.NewReader(".bogus\n.exit\n"), &out, &errOut)
	session.Run()

	if !strings.Contains(errOut.String(), "unknown command") {
		t.Fatalf("expected an unknown-command error, got: %s", errOut.String())
	}
}

func TestSessionQueryWithoutOpenFails(t *testing.T) {
	var out, errOut bytes.Buffer
	session := NewSession(strings.NewReader(".query max=1\n.exit\n"), &out, &errOut)
	session.Run()

	if !strings.Contains(errOut.String(), "no dataset open") {
		t.Fatalf("expected a no-dataset-open error, got: %s", errOut.String())
	}
}
