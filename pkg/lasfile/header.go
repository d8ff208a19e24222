// pkg/lasfile/header.go
// Package lasfile implements the wire-exact point-record file format
// described in spec.md §6.1: a versioned fixed header followed by
// fixed-length point records in one of eleven formats.
package lasfile

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// HeaderSizeV12 is the fixed header size through format version 1.2.
// HeaderSizeV13 adds the waveform data packet record offset. HeaderSizeV14
// adds the extended VLR count/offset and the 64-bit per-return counts.
const (
	HeaderSizeV12 = 227
	HeaderSizeV13 = 235
	HeaderSizeV14 = 375
)

// Signature is the 4-byte file signature, 'L','A','S','F'.
var Signature = [4]byte{'L', 'A', 'S', 'F'}

// Header field offsets, little-endian throughout.
const (
	offsetSignature         = 0  // 4 bytes
	offsetSourceID           = 4  // 2 bytes
	offsetGlobalEncoding     = 6  // 2 bytes
	offsetProjectGUID1       = 8  // 4 bytes
	offsetProjectGUID2       = 12 // 2 bytes
	offsetProjectGUID3       = 14 // 2 bytes
	offsetProjectGUID4       = 16 // 8 bytes
	offsetVersionMajor       = 24 // 1 byte
	offsetVersionMinor       = 25 // 1 byte
	offsetSystemIdentifier   = 26 // 32 bytes
	offsetGeneratingSoftware = 58 // 32 bytes
	offsetCreationDayOfYear  = 90 // 2 bytes
	offsetCreationYear       = 92 // 2 bytes
	offsetHeaderSize         = 94  // 2 bytes
	offsetOffsetToPointData  = 96  // 4 bytes
	offsetNumVLR             = 100 // 4 bytes
	offsetPointDataFormat    = 104 // 1 byte
	offsetPointDataLength    = 105 // 2 bytes
	offsetLegacyPointCount   = 107 // 4 bytes
	offsetLegacyReturnCounts = 111 // 5 * 4 bytes = 20 bytes
	offsetScaleX             = 131 // 8 bytes
	offsetScaleY             = 139
	offsetScaleZ             = 147
	offsetOffsetX            = 155
	offsetOffsetY            = 163
	offsetOffsetZ            = 171
	offsetMaxX               = 179
	offsetMinX               = 187
	offsetMaxY               = 195
	offsetMinY               = 203
	offsetMaxZ               = 211
	offsetMinZ               = 219
	// v1.3+
	offsetWaveformDataOffset = 227 // 8 bytes
	// v1.4+
	offsetEVLROffset      = 235 // 8 bytes
	offsetEVLRCount       = 243 // 4 bytes
	offsetExtPointCount   = 247 // 8 bytes
	offsetExtReturnCounts = 255 // 15 * 8 bytes = 120 bytes
)

// Errors surfaced by header parsing (spec §7 "Format" error kind).
var (
	ErrBadSignature     = errors.New("lasfile: signature mismatch, not a point-record file")
	ErrHeaderTooShort   = errors.New("lasfile: header data shorter than declared header size")
	ErrUnsupportedMajor = errors.New("lasfile: unsupported major version")
	ErrUnknownFormat    = errors.New("lasfile: unknown point data record format")
)

// Header is the decoded fixed header of a point-record file.
type Header struct {
	SourceID           uint16
	GlobalEncoding     uint16
	ProjectGUID        [16]byte
	VersionMajor       uint8
	VersionMinor       uint8
	SystemIdentifier   [32]byte
	GeneratingSoftware [32]byte
	CreationDayOfYear  uint16
	CreationYear       uint16
	HeaderSize         uint16
	OffsetToPointData  uint32
	NumberOfVLRs       uint32
	PointDataFormat    uint8
	PointDataLength    uint16
	LegacyPointCount   uint32
	LegacyReturnCounts [5]uint32

	ScaleX, ScaleY, ScaleZ    float64
	OffsetX, OffsetY, OffsetZ float64
	MaxX, MinX                float64
	MaxY, MinY                float64
	MaxZ, MinZ                float64

	// Present when VersionMinor >= 3.
	WaveformDataOffset uint64

	// Present when VersionMinor >= 4.
	EVLROffset      uint64
	EVLRCount       uint32
	ExtPointCount   uint64
	ExtReturnCounts [15]uint64
}

// NewHeader returns a header with the fields a freshly created dataset
// needs before its bounding box and point counts are known.
func NewHeader(format uint8, minorVersion uint8) *Header {
	h := &Header{
		VersionMajor:    1,
		VersionMinor:    minorVersion,
		PointDataFormat: format,
		PointDataLength: RecordLength(format),
		ScaleX:          0.001,
		ScaleY:          0.001,
		ScaleZ:          0.001,
	}
	h.HeaderSize = h.sizeForVersion()
	h.OffsetToPointData = uint32(h.HeaderSize)
	return h
}

func (h *Header) sizeForVersion() uint16 {
	switch {
	case h.VersionMinor >= 4:
		return HeaderSizeV14
	case h.VersionMinor == 3:
		return HeaderSizeV13
	default:
		return HeaderSizeV12
	}
}

// PointCount returns the file's point count, preferring the 64-bit v1.4
// field when present.
func (h *Header) PointCount() uint64 {
	if h.VersionMinor >= 4 && h.ExtPointCount != 0 {
		return h.ExtPointCount
	}
	return uint64(h.LegacyPointCount)
}

// SetPointCount updates both the legacy and extended point count fields,
// saturating the legacy field if it overflows 32 bits.
func (h *Header) SetPointCount(n uint64) {
	if n > 0xFFFFFFFF {
		h.LegacyPointCount = 0xFFFFFFFF
	} else {
		h.LegacyPointCount = uint32(n)
	}
	h.ExtPointCount = n
}

// Encode serializes the header to a byte slice sized for its own version.
func (h *Header) Encode() []byte {
	size := h.sizeForVersion()
	data := make([]byte, size)

	copy(data[offsetSignature:], Signature[:])
	binary.LittleEndian.PutUint16(data[offsetSourceID:], h.SourceID)
	binary.LittleEndian.PutUint16(data[offsetGlobalEncoding:], h.GlobalEncoding)
	copy(data[offsetProjectGUID1:offsetProjectGUID1+16], h.ProjectGUID[:])
	data[offsetVersionMajor] = h.VersionMajor
	data[offsetVersionMinor] = h.VersionMinor
	copy(data[offsetSystemIdentifier:offsetSystemIdentifier+32], h.SystemIdentifier[:])
	copy(data[offsetGeneratingSoftware:offsetGeneratingSoftware+32], h.GeneratingSoftware[:])
	binary.LittleEndian.PutUint16(data[offsetCreationDayOfYear:], h.CreationDayOfYear)
	binary.LittleEndian.PutUint16(data[offsetCreationYear:], h.CreationYear)
	binary.LittleEndian.PutUint16(data[offsetHeaderSize:], size)
	binary.LittleEndian.PutUint32(data[offsetOffsetToPointData:], h.OffsetToPointData)
	binary.LittleEndian.PutUint32(data[offsetNumVLR:], h.NumberOfVLRs)
	data[offsetPointDataFormat] = h.PointDataFormat
	binary.LittleEndian.PutUint16(data[offsetPointDataLength:], h.PointDataLength)
	binary.LittleEndian.PutUint32(data[offsetLegacyPointCount:], h.LegacyPointCount)
	for i, c := range h.LegacyReturnCounts {
		binary.LittleEndian.PutUint32(data[offsetLegacyReturnCounts+i*4:], c)
	}

	putFloat64(data, offsetScaleX, h.ScaleX)
	putFloat64(data, offsetScaleY, h.ScaleY)
	putFloat64(data, offsetScaleZ, h.ScaleZ)
	putFloat64(data, offsetOffsetX, h.OffsetX)
	putFloat64(data, offsetOffsetY, h.OffsetY)
	putFloat64(data, offsetOffsetZ, h.OffsetZ)
	putFloat64(data, offsetMaxX, h.MaxX)
	putFloat64(data, offsetMinX, h.MinX)
	putFloat64(data, offsetMaxY, h.MaxY)
	putFloat64(data, offsetMinY, h.MinY)
	putFloat64(data, offsetMaxZ, h.MaxZ)
	putFloat64(data, offsetMinZ, h.MinZ)

	if h.VersionMinor >= 3 {
		binary.LittleEndian.PutUint64(data[offsetWaveformDataOffset:], h.WaveformDataOffset)
	}
	if h.VersionMinor >= 4 {
		binary.LittleEndian.PutUint64(data[offsetEVLROffset:], h.EVLROffset)
		binary.LittleEndian.PutUint32(data[offsetEVLRCount:], h.EVLRCount)
		binary.LittleEndian.PutUint64(data[offsetExtPointCount:], h.ExtPointCount)
		for i, c := range h.ExtReturnCounts {
			binary.LittleEndian.PutUint64(data[offsetExtReturnCounts+i*8:], c)
		}
	}

	return data
}

// DecodeHeader parses a header from data, which must be at least
// HeaderSizeV12 bytes (more, depending on the declared minor version).
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSizeV12 {
		return nil, ErrHeaderTooShort
	}
	if string(data[offsetSignature:offsetSignature+4]) != string(Signature[:]) {
		return nil, ErrBadSignature
	}

	h := &Header{
		SourceID:          binary.LittleEndian.Uint16(data[offsetSourceID:]),
		GlobalEncoding:    binary.LittleEndian.Uint16(data[offsetGlobalEncoding:]),
		VersionMajor:      data[offsetVersionMajor],
		VersionMinor:      data[offsetVersionMinor],
		CreationDayOfYear: binary.LittleEndian.Uint16(data[offsetCreationDayOfYear:]),
		CreationYear:      binary.LittleEndian.Uint16(data[offsetCreationYear:]),
		HeaderSize:        binary.LittleEndian.Uint16(data[offsetHeaderSize:]),
		OffsetToPointData: binary.LittleEndian.Uint32(data[offsetOffsetToPointData:]),
		NumberOfVLRs:      binary.LittleEndian.Uint32(data[offsetNumVLR:]),
		PointDataFormat:   data[offsetPointDataFormat] & 0x7F, // high bit marks a compressed variant, unused here
		PointDataLength:   binary.LittleEndian.Uint16(data[offsetPointDataLength:]),
		LegacyPointCount:  binary.LittleEndian.Uint32(data[offsetLegacyPointCount:]),
	}
	copy(h.ProjectGUID[:], data[offsetProjectGUID1:offsetProjectGUID1+16])
	copy(h.SystemIdentifier[:], data[offsetSystemIdentifier:offsetSystemIdentifier+32])
	copy(h.GeneratingSoftware[:], data[offsetGeneratingSoftware:offsetGeneratingSoftware+32])
	for i := range h.LegacyReturnCounts {
		h.LegacyReturnCounts[i] = binary.LittleEndian.Uint32(data[offsetLegacyReturnCounts+i*4:])
	}

	if h.VersionMajor != 1 {
		return nil, errors.Wrapf(ErrUnsupportedMajor, "got %d", h.VersionMajor)
	}
	if int(h.PointDataFormat) >= len(recordLengths) {
		return nil, errors.Wrapf(ErrUnknownFormat, "format %d", h.PointDataFormat)
	}

	h.ScaleX = getFloat64(data, offsetScaleX)
	h.ScaleY = getFloat64(data, offsetScaleY)
	h.ScaleZ = getFloat64(data, offsetScaleZ)
	h.OffsetX = getFloat64(data, offsetOffsetX)
	h.OffsetY = getFloat64(data, offsetOffsetY)
	h.OffsetZ = getFloat64(data, offsetOffsetZ)
	h.MaxX = getFloat64(data, offsetMaxX)
	h.MinX = getFloat64(data, offsetMinX)
	h.MaxY = getFloat64(data, offsetMaxY)
	h.MinY = getFloat64(data, offsetMinY)
	h.MaxZ = getFloat64(data, offsetMaxZ)
	h.MinZ = getFloat64(data, offsetMinZ)

	if h.VersionMinor >= 3 && len(data) >= HeaderSizeV13 {
		h.WaveformDataOffset = binary.LittleEndian.Uint64(data[offsetWaveformDataOffset:])
	}
	if h.VersionMinor >= 4 && len(data) >= HeaderSizeV14 {
		h.EVLROffset = binary.LittleEndian.Uint64(data[offsetEVLROffset:])
		h.EVLRCount = binary.LittleEndian.Uint32(data[offsetEVLRCount:])
		h.ExtPointCount = binary.LittleEndian.Uint64(data[offsetExtPointCount:])
		for i := range h.ExtReturnCounts {
			h.ExtReturnCounts[i] = binary.LittleEndian.Uint64(data[offsetExtReturnCounts+i*8:])
		}
	}

	return h, nil
}

func putFloat64(data []byte, offset int, v float64) {
	binary.LittleEndian.PutUint64(data[offset:], math.Float64bits(v))
}

func getFloat64(data []byte, offset int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
}
