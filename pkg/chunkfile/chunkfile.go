// Package chunkfile implements the length-prefixed, versioned chunk
// container described in spec.md §4.2 and §6.2: every chunk starts with
// a fixed record (type tag, major/minor version, header length, data
// length) followed by the header and payload bytes. The index sidecar is
// a sequence of these chunks — the first is the coarse octree, the rest
// are per-leaf fine octrees appended in leaf order.
package chunkfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// RecordSize is the size, in bytes, of a chunk's fixed leading record:
// 4-byte type tag, 1-byte major version, 1-byte minor version, 2-byte
// header length, 8-byte data length.
const RecordSize = 4 + 1 + 1 + 2 + 8

// IndexType is the chunk type tag used by the octree index sidecar (§6.2).
const IndexType uint32 = 0x38584449 // "IDX8" read little-endian

// IndexMajorVersion and IndexMinorVersion are the version the sidecar is
// written and read at.
const (
	IndexMajorVersion uint8 = 1
	IndexMinorVersion uint8 = 0
)

// ErrUnrecognizedChunk is returned when a reader encounters a (type,
// major) pair it does not understand (spec §4.2: "Readers must reject
// chunks whose (type, major) they do not recognize").
var ErrUnrecognizedChunk = errors.New("chunkfile: unrecognized chunk type or major version")

// Record is the fixed leading record of a chunk.
type Record struct {
	Type       uint32
	Major      uint8
	Minor      uint8
	HeaderLen  uint16
	DataLen    uint64
}

// Chunk is a fully materialized chunk: its record plus header and data
// payloads.
type Chunk struct {
	Record
	Header []byte
	Data   []byte
}

// Encode serializes the record's fixed 16-byte prefix.
func (r Record) Encode() []byte {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Type)
	buf[4] = r.Major
	buf[5] = r.Minor
	binary.LittleEndian.PutUint16(buf[6:8], r.HeaderLen)
	binary.LittleEndian.PutUint64(buf[8:16], r.DataLen)
	return buf
}

// DecodeRecord parses a chunk's fixed leading record from buf, which
// must be at least RecordSize bytes.
func DecodeRecord(buf []byte) (Record, error) {
	if len(buf) < RecordSize {
		return Record{}, errors.New("chunkfile: record too short")
	}
	return Record{
		Type:      binary.LittleEndian.Uint32(buf[0:4]),
		Major:     buf[4],
		Minor:     buf[5],
		HeaderLen: binary.LittleEndian.Uint16(buf[6:8]),
		DataLen:   binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// WriteChunk writes a complete chunk (record + header + data) to w and
// returns the number of bytes written.
func WriteChunk(w io.Writer, c Chunk) (int64, error) {
	c.Record.HeaderLen = uint16(len(c.Header))
	c.Record.DataLen = uint64(len(c.Data))

	var total int64
	n, err := w.Write(c.Record.Encode())
	total += int64(n)
	if err != nil {
		return total, errors.Wrap(err, "chunkfile: write record")
	}
	n, err = w.Write(c.Header)
	total += int64(n)
	if err != nil {
		return total, errors.Wrap(err, "chunkfile: write header")
	}
	n, err = w.Write(c.Data)
	total += int64(n)
	if err != nil {
		return total, errors.Wrap(err, "chunkfile: write data")
	}
	return total, nil
}

// ReadChunk reads one complete chunk from r, validating that (Type,
// Major) matches one of acceptedTypes. If acceptedTypes is empty, no
// type check is performed.
func ReadChunk(r io.Reader, acceptedTypes ...Record) (Chunk, error) {
	prefix := make([]byte, RecordSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return Chunk{}, errors.Wrap(err, "chunkfile: read record")
	}
	rec, err := DecodeRecord(prefix)
	if err != nil {
		return Chunk{}, err
	}

	if len(acceptedTypes) > 0 {
		recognized := false
		for _, accepted := range acceptedTypes {
			if rec.Type == accepted.Type && rec.Major == accepted.Major {
				recognized = true
				break
			}
		}
		if !recognized {
			return Chunk{}, fmt.Errorf("%w: type=%#x major=%d", ErrUnrecognizedChunk, rec.Type, rec.Major)
		}
	}

	header := make([]byte, rec.HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Chunk{}, errors.Wrap(err, "chunkfile: read header")
	}
	data := make([]byte, rec.DataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return Chunk{}, errors.Wrap(err, "chunkfile: read data")
	}

	return Chunk{Record: rec, Header: header, Data: data}, nil
}

// ReadChunkAt reads one complete chunk starting at byte offset in ra,
// used to fetch a page's fine octree by the Offset stored on its coarse
// leaf node.
func ReadChunkAt(ra io.ReaderAt, offset int64, acceptedTypes ...Record) (Chunk, error) {
	return ReadChunk(&offsetReader{ra: ra, pos: offset}, acceptedTypes...)
}

// offsetReader adapts an io.ReaderAt into a sequential io.Reader starting
// at a fixed offset, advancing pos as it is read.
type offsetReader struct {
	ra  io.ReaderAt
	pos int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.ra.ReadAt(p, o.pos)
	o.pos += int64(n)
	return n, err
}

// Size returns the total on-disk size of a chunk with the given header
// and data lengths, including its fixed record.
func Size(headerLen, dataLen int) int64 {
	return int64(RecordSize + headerLen + dataLen)
}
