package lasfile

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := NewHeader(3, 2)
	h.SetPointCount(1234)
	h.MaxX, h.MinX = 10, -10
	copy(h.SystemIdentifier[:], "TEST")

	got, err := DecodeHeader(h.Encode())
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.PointDataFormat != 3 || got.PointCount() != 1234 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.MaxX != 10 || got.MinX != -10 {
		t.Fatalf("bounds mismatch: %+v", got)
	}
}

func TestHeaderV14ExtendedFields(t *testing.T) {
	h := NewHeader(7, 4)
	h.SetPointCount(5_000_000_000) // exceeds 32-bit legacy count

	got, err := DecodeHeader(h.Encode())
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.PointCount() != 5_000_000_000 {
		t.Fatalf("expected extended point count to survive, got %d", got.PointCount())
	}
	if got.LegacyPointCount != 0xFFFFFFFF {
		t.Fatalf("expected legacy count to saturate, got %d", got.LegacyPointCount)
	}
}

func TestRecordRoundTripLegacyAndExtended(t *testing.T) {
	for _, format := range []uint8{0, 1, 2, 3, 6, 7, 8} {
		p := Point{
			X: 12345, Y: -6789, Z: 42,
			Intensity:       500,
			ReturnNumber:    2,
			NumberOfReturns: 3,
			Classification:  5,
			ScanAngle:       -12,
			UserData:        7,
			PointSourceID:   99,
			GPSTime:         12345.6789,
			Color:           [3]uint16{100, 200, 300},
			NIR:             400,
		}
		buf, err := EncodeRecord(format, p, false)
		if err != nil {
			t.Fatalf("format %d: EncodeRecord: %v", format, err)
		}
		if len(buf) != int(RecordLength(format)) {
			t.Fatalf("format %d: expected length %d, got %d", format, RecordLength(format), len(buf))
		}

		got, err := DecodeRecord(format, buf)
		if err != nil {
			t.Fatalf("format %d: DecodeRecord: %v", format, err)
		}
		if got.X != p.X || got.Y != p.Y || got.Z != p.Z {
			t.Fatalf("format %d: coordinate mismatch: %+v", format, got)
		}
		if got.ReturnNumber != p.ReturnNumber || got.NumberOfReturns != p.NumberOfReturns {
			t.Fatalf("format %d: return fields mismatch: %+v", format, got)
		}
		if HasGPSTime(format) && got.GPSTime != p.GPSTime {
			t.Fatalf("format %d: GPS time mismatch: %v", format, got.GPSTime)
		}
		if HasColor(format) && got.Color != p.Color {
			t.Fatalf("format %d: color mismatch: %v", format, got.Color)
		}
	}
}

func TestCreateOpenWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.lasf")

	f, err := Create(path, 3, 2, 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Header.ScaleX, f.Header.ScaleY, f.Header.ScaleZ = 0.01, 0.01, 0.01

	pts := []r3.Vector{{X: 1.23, Y: 4.56, Z: 7.89}, {X: -1, Y: -2, Z: -3}}
	for i, v := range pts {
		x, y, z := f.ToRecordCoords(v)
		if err := f.WriteRecord(uint64(i), Point{X: x, Y: y, Z: z, Intensity: uint16(i)}); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}
	if err := f.RewriteHeader(); err != nil {
		t.Fatalf("RewriteHeader: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	for i, want := range pts {
		rec, err := reopened.ReadRecord(uint64(i))
		if err != nil {
			t.Fatalf("ReadRecord(%d): %v", i, err)
		}
		got := reopened.Unscaled(rec)
		if math.Abs(got.X-want.X) > 0.02 || math.Abs(got.Y-want.Y) > 0.02 || math.Abs(got.Z-want.Z) > 0.02 {
			t.Fatalf("point %d: got %v want %v", i, got, want)
		}
	}
}
