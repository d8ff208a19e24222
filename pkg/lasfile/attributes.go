// pkg/lasfile/attributes.go
package lasfile

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"
)

// NoVoxel is the sentinel "none" value for a point's voxel back-reference
// (spec §3 "voxel back-reference (integer or sentinel 'none')").
const NoVoxel uint32 = 0xFFFFFFFF

// AttributeStreams holds the four per-point attribute side-stream files
// described in spec §3: parallel arrays indexed by point ordinal, each
// living in its own extension file so they can be rewritten independently
// of the immutable point records.
type AttributeStreams struct {
	Segment    *u32Stream // segment id
	Elevation  *f32Stream // elevation above ground
	Descriptor *f32Stream // scalar descriptor
	Voxel      *u32Stream // voxel back-reference; NoVoxel = none
}

// CreateAttributeStreams initializes all four side-stream files at path
// with default values sized to n points (spec §4.3 CREATE_ATTRIBUTES).
func CreateAttributeStreams(basePath string, n uint64) (*AttributeStreams, error) {
	segment, err := createU32Stream(basePath+".segment", n, 0)
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: create segment stream")
	}
	elevation, err := createF32Stream(basePath+".elevation", n, 0)
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: create elevation stream")
	}
	descriptor, err := createF32Stream(basePath+".descriptor", n, 0)
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: create descriptor stream")
	}
	voxel, err := createU32Stream(basePath+".voxel", n, NoVoxel)
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: create voxel stream")
	}
	return &AttributeStreams{Segment: segment, Elevation: elevation, Descriptor: descriptor, Voxel: voxel}, nil
}

// OpenAttributeStreams opens the four side-stream files already present
// at basePath.
func OpenAttributeStreams(basePath string) (*AttributeStreams, error) {
	segment, err := openU32Stream(basePath + ".segment")
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: open segment stream")
	}
	elevation, err := openF32Stream(basePath + ".elevation")
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: open elevation stream")
	}
	descriptor, err := openF32Stream(basePath + ".descriptor")
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: open descriptor stream")
	}
	voxel, err := openU32Stream(basePath + ".voxel")
	if err != nil {
		return nil, errors.Wrap(err, "lasfile: open voxel stream")
	}
	return &AttributeStreams{Segment: segment, Elevation: elevation, Descriptor: descriptor, Voxel: voxel}, nil
}

// Close closes all four underlying files.
func (a *AttributeStreams) Close() error {
	var firstErr error
	for _, f := range []interface{ Close() error }{a.Segment, a.Elevation, a.Descriptor, a.Voxel} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// u32Stream is a flat, fixed-width array of uint32 values backed by a
// plain file (attribute streams are small relative to point records and
// do not need the point file's mmap treatment).
type u32Stream struct {
	f *os.File
}

func createU32Stream(path string, n uint64, fill uint32) (*u32Stream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, fill)
	for i := uint64(0); i < n; i++ {
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &u32Stream{f: f}, nil
}

func openU32Stream(path string) (*u32Stream, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &u32Stream{f: f}, nil
}

func (s *u32Stream) Get(ordinal uint64) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := s.f.ReadAt(buf, int64(ordinal)*4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (s *u32Stream) Set(ordinal uint64, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err := s.f.WriteAt(buf, int64(ordinal)*4)
	return err
}

func (s *u32Stream) Close() error { return s.f.Close() }

// f32Stream is the float32 analogue of u32Stream.
type f32Stream struct {
	f *os.File
}

func createF32Stream(path string, n uint64, fill float32) (*f32Stream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(fill))
	for i := uint64(0); i < n; i++ {
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &f32Stream{f: f}, nil
}

func openF32Stream(path string) (*f32Stream, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &f32Stream{f: f}, nil
}

func (s *f32Stream) Get(ordinal uint64) (float32, error) {
	buf := make([]byte, 4)
	if _, err := s.f.ReadAt(buf, int64(ordinal)*4); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf)), nil
}

func (s *f32Stream) Set(ordinal uint64, v float32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	_, err := s.f.WriteAt(buf, int64(ordinal)*4)
	return err
}

func (s *f32Stream) Close() error { return s.f.Close() }
