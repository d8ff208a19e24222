package octreeindex

import (
	"encoding/binary"
	"io"
	"math"
	"math/bits"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/chunkfile"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
)

// headerSize is the fixed 104-byte v1.0 header: node count (u64), root-box
// min/max (six f64), points-box min/max (six f64) (spec §6.2).
const headerSize = 8 + 6*8 + 6*8

// parentBits is how many of maskAndParent's 32 bits encode the parent
// NodeRef; the low 8 bits are reserved for the child mask.
const parentBits = 24

// maxSidecarNodes is the largest tree sidecar.go can encode, bounded by
// the 24-bit parent link packed alongside the child mask.
const maxSidecarNodes = 1<<parentBits - 1

// Encode serializes t into a chunk header and data payload in the §6.2
// layout: per node, a packed child-mask/parent-link word, the present
// child indices tail-padded to an even count, then from/size/offset.
func (t *Tree) Encode() (header, data []byte, err error) {
	if len(t.Nodes) > maxSidecarNodes {
		return nil, nil, errors.Errorf("octreeindex: tree has %d nodes, exceeds sidecar limit %d", len(t.Nodes), maxSidecarNodes)
	}

	header = make([]byte, headerSize)
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(t.Nodes)))
	putBox(header[8:56], t.RootBox)
	putBox(header[56:104], t.PointsBox)

	var buf []byte
	for i := range t.Nodes {
		n := &t.Nodes[i]

		childCount := bits.OnesCount8(n.ChildMask)
		paddedCount := childCount
		if paddedCount%2 != 0 {
			paddedCount++
		}

		record := make([]byte, 4+paddedCount*4+24)
		maskAndParent := uint32(n.ChildMask) | uint32(n.Prev)<<8
		binary.LittleEndian.PutUint32(record[0:4], maskAndParent)

		off := 4
		for k := uint8(0); k < 8; k++ {
			if n.HasChild(k) {
				binary.LittleEndian.PutUint32(record[off:off+4], uint32(n.Next[k]))
				off += 4
			}
		}
		// tail padding entry, if any, is left zero.
		off = 4 + paddedCount*4

		binary.LittleEndian.PutUint64(record[off:off+8], n.From)
		binary.LittleEndian.PutUint64(record[off+8:off+16], n.Size)
		binary.LittleEndian.PutUint64(record[off+16:off+24], n.Offset)

		buf = append(buf, record...)
	}

	return header, buf, nil
}

// Decode parses a chunk header and data payload in the §6.2 layout back
// into a Tree.
func Decode(header, data []byte) (*Tree, error) {
	if len(header) < headerSize {
		return nil, errors.New("octreeindex: sidecar header too short")
	}
	count := binary.LittleEndian.Uint64(header[0:8])

	t := &Tree{
		Nodes:     make([]Node, count),
		RootBox:   getBox(header[8:56]),
		PointsBox: getBox(header[56:104]),
	}

	pos := 0
	for i := uint64(0); i < count; i++ {
		if pos+4 > len(data) {
			return nil, errors.New("octreeindex: truncated sidecar data")
		}
		maskAndParent := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4

		n := &t.Nodes[i]
		n.ChildMask = uint8(maskAndParent & 0xff)
		n.Prev = NodeRef(maskAndParent >> 8)

		childCount := bits.OnesCount8(n.ChildMask)
		paddedCount := childCount
		if paddedCount%2 != 0 {
			paddedCount++
		}

		if pos+paddedCount*4 > len(data) {
			return nil, errors.New("octreeindex: truncated sidecar child indices")
		}
		read := 0
		for k := uint8(0); k < 8; k++ {
			if n.HasChild(k) {
				n.Next[k] = NodeRef(binary.LittleEndian.Uint32(data[pos : pos+4]))
				pos += 4
				read++
			}
		}
		pos += (paddedCount - read) * 4

		if pos+24 > len(data) {
			return nil, errors.New("octreeindex: truncated sidecar from/size/offset")
		}
		n.From = binary.LittleEndian.Uint64(data[pos : pos+8])
		n.Size = binary.LittleEndian.Uint64(data[pos+8 : pos+16])
		n.Offset = binary.LittleEndian.Uint64(data[pos+16 : pos+24])
		pos += 24
	}

	return t, nil
}

func putBox(buf []byte, b geom.Box) {
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(b.Min.X))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(b.Min.Y))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(b.Min.Z))
	binary.LittleEndian.PutUint64(buf[24:32], math.Float64bits(b.Max.X))
	binary.LittleEndian.PutUint64(buf[32:40], math.Float64bits(b.Max.Y))
	binary.LittleEndian.PutUint64(buf[40:48], math.Float64bits(b.Max.Z))
}

func getBox(buf []byte) geom.Box {
	return geom.Box{
		Min: r3.Vector{
			X: math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
			Z: math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24])),
		},
		Max: r3.Vector{
			X: math.Float64frombits(binary.LittleEndian.Uint64(buf[24:32])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(buf[32:40])),
			Z: math.Float64frombits(binary.LittleEndian.Uint64(buf[40:48])),
		},
	}
}

// indexRecord is the (type, major) pair the sidecar's chunks are written
// and recognized at.
var indexRecord = chunkfile.Record{Type: chunkfile.IndexType, Major: chunkfile.IndexMajorVersion}

// WriteChunk appends t to w as one §4.2 chunk and returns the number of
// bytes written. Callers accumulate this to track the byte offset of each
// subsequent chunk, which is what a leaf's Offset field stores once the
// tree being written is a per-leaf fine octree.
func WriteChunk(w io.Writer, t *Tree) (int64, error) {
	header, data, err := t.Encode()
	if err != nil {
		return 0, err
	}
	n, err := chunkfile.WriteChunk(w, chunkfile.Chunk{
		Record: chunkfile.Record{Type: chunkfile.IndexType, Major: chunkfile.IndexMajorVersion, Minor: chunkfile.IndexMinorVersion},
		Header: header,
		Data:   data,
	})
	if err != nil {
		return 0, errors.Wrap(err, "octreeindex: write sidecar chunk")
	}
	return n, nil
}

// ReadChunk reads one tree from r, encoded as a §4.2 chunk.
func ReadChunk(r io.Reader) (*Tree, error) {
	c, err := chunkfile.ReadChunk(r, indexRecord)
	if err != nil {
		return nil, errors.Wrap(err, "octreeindex: read sidecar chunk")
	}
	return Decode(c.Header, c.Data)
}

// ReadChunkAt reads one tree starting at byte offset in ra, used to fetch
// a page's fine octree via the coarse leaf's stored Offset.
func ReadChunkAt(ra io.ReaderAt, offset int64) (*Tree, error) {
	c, err := chunkfile.ReadChunkAt(ra, offset, indexRecord)
	if err != nil {
		return nil, errors.Wrap(err, "octreeindex: read sidecar chunk at offset")
	}
	return Decode(c.Header, c.Data)
}
