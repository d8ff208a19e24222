// pkg/lasfile/file.go
package lasfile

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
)

// File is an open point-record file: its header plus the mmap-backed
// region holding the fixed-length records.
type File struct {
	Header *Header
	mmap   *MmapFile
	path   string
}

// Create initializes a new point file at path for n points in the given
// format, writing the header but leaving point records zeroed.
func Create(path string, format uint8, minorVersion uint8, n uint64) (*File, error) {
	h := NewHeader(format, minorVersion)
	h.SetPointCount(n)

	size := int64(h.HeaderSize) + int64(h.PointDataLength)*int64(n)
	if size < int64(h.HeaderSize) {
		size = int64(h.HeaderSize)
	}

	m, err := OpenMmapFile(path, size)
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: create")
	}
	copy(m.Slice(0, int(h.HeaderSize)), h.Encode())

	return &File{Header: h, mmap: m, path: path}, nil
}

// Open opens an existing point file at path, parsing its header.
func Open(path string) (*File, error) {
	m, err := OpenMmapFile(path, 0)
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: open")
	}
	prefix := m.Slice(0, HeaderSizeV12)
	if prefix == nil {
		m.Close()
		return nil, ErrHeaderTooShort
	}
	h, err := DecodeHeader(m.Slice(0, int(HeaderSizeV12)))
	if err != nil {
		m.Close()
		return nil, err
	}
	if full := m.Slice(0, int(h.HeaderSize)); full != nil {
		if reparsed, err := DecodeHeader(full); err == nil {
			h = reparsed
		}
	}

	return &File{Header: h, mmap: m, path: path}, nil
}

// Close flushes and releases the underlying mapping.
func (f *File) Close() error {
	if err := f.mmap.Sync(); err != nil {
		return err
	}
	return f.mmap.Close()
}

// Path returns the file's backing path.
func (f *File) Path() string { return f.path }

func (f *File) recordOffset(ordinal uint64) int64 {
	return int64(f.Header.OffsetToPointData) + int64(ordinal)*int64(f.Header.PointDataLength)
}

// ReadRecord returns the decoded point record at ordinal.
func (f *File) ReadRecord(ordinal uint64) (Point, error) {
	buf := f.mmap.Slice(int(f.recordOffset(ordinal)), int(f.Header.PointDataLength))
	if buf == nil {
		return Point{}, errors.Errorf("lasfile: ordinal %d out of range", ordinal)
	}
	return DecodeRecord(f.Header.PointDataFormat, buf)
}

// WriteRecord encodes p into the fixed slot at ordinal, dropping any
// extra bytes (the file was not created with room for them).
func (f *File) WriteRecord(ordinal uint64, p Point) error {
	buf := f.mmap.Slice(int(f.recordOffset(ordinal)), int(f.Header.PointDataLength))
	if buf == nil {
		return errors.Errorf("lasfile: ordinal %d out of range", ordinal)
	}
	encoded, err := EncodeRecord(f.Header.PointDataFormat, p, false)
	if err != nil {
		return err
	}
	copy(buf, encoded)
	return nil
}

// Unscaled returns the point's floating-point world coordinates: the
// record's integer coordinates multiplied by the header's scale and
// shifted by its offset. This is the coordinate space the octree index
// is built over.
func (f *File) Unscaled(p Point) r3.Vector {
	return r3.Vector{
		X: f.Header.OffsetX + float64(p.X)*f.Header.ScaleX,
		Y: f.Header.OffsetY + float64(p.Y)*f.Header.ScaleY,
		Z: f.Header.OffsetZ + float64(p.Z)*f.Header.ScaleZ,
	}
}

// ToRecordCoords converts world coordinates back into a record's scaled
// integer representation.
func (f *File) ToRecordCoords(v r3.Vector) (x, y, z int32) {
	x = int32((v.X - f.Header.OffsetX) / f.Header.ScaleX)
	y = int32((v.Y - f.Header.OffsetY) / f.Header.ScaleY)
	z = int32((v.Z - f.Header.OffsetZ) / f.Header.ScaleZ)
	return
}

// Bounds returns the header's observed bounding box in world coordinates.
func (f *File) Bounds() geom.Box {
	return geom.NewBox(
		r3.Vector{X: f.Header.MinX, Y: f.Header.MinY, Z: f.Header.MinZ},
		r3.Vector{X: f.Header.MaxX, Y: f.Header.MaxY, Z: f.Header.MaxZ},
	)
}

// SetBounds writes box into the header's min/max fields.
func (f *File) SetBounds(box geom.Box) {
	f.Header.MinX, f.Header.MaxX = box.Min.X, box.Max.X
	f.Header.MinY, f.Header.MaxY = box.Min.Y, box.Max.Y
	f.Header.MinZ, f.Header.MaxZ = box.Min.Z, box.Max.Z
}

// RewriteHeader re-encodes the header in place, used after the bounding
// box or point count changes during a build pass.
func (f *File) RewriteHeader() error {
	dst := f.mmap.Slice(0, int(f.Header.HeaderSize))
	if dst == nil {
		return errors.New("lasfile: mapping too small for header")
	}
	copy(dst, f.Header.Encode())
	return nil
}
