// pkg/lasfile/record.go
package lasfile

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// recordLengths is the on-disk byte length of each of the eleven point
// data record formats (spec §6.1).
var recordLengths = [11]uint16{20, 28, 26, 34, 57, 63, 30, 36, 38, 59, 67}

// RecordLength returns the byte length of one point record in format.
func RecordLength(format uint8) uint16 {
	if int(format) >= len(recordLengths) {
		return 0
	}
	return recordLengths[format]
}

// HasGPSTime reports whether format carries a GPS time field.
func HasGPSTime(format uint8) bool {
	return format != 0 && format != 2
}

// HasColor reports whether format carries an RGB triple.
func HasColor(format uint8) bool {
	switch format {
	case 2, 3, 5, 7, 8, 10:
		return true
	default:
		return false
	}
}

// HasNIR reports whether format carries a near-infrared channel.
func HasNIR(format uint8) bool {
	return format == 8 || format == 10
}

// HasWavePacket reports whether format carries wave-packet fields.
func HasWavePacket(format uint8) bool {
	return format == 4 || format == 5 || format == 9 || format == 10
}

// IsExtended reports whether format uses the extended (>=6) point
// structure with 4-bit return-number/returns-count halves, a 256-value
// classification byte and a 16-bit scan angle.
func IsExtended(format uint8) bool {
	return format >= 6
}

// Point is the normalized, format-independent view of one point record:
// every format's fields decode into and encode from this shape (spec §3
// "point record").
type Point struct {
	X, Y, Z          int32
	Intensity        uint16
	ReturnNumber     uint8
	NumberOfReturns  uint8
	ScanDirection    bool
	EdgeOfFlightLine bool
	Classification   uint8
	ClassificationFlags uint8 // extended formats only (withheld/overlap/etc.)
	ScannerChannel   uint8    // extended formats only
	ScanAngle        float64  // degrees; legacy formats store an int8 rank, extended a 0.006-degree int16
	UserData         uint8
	PointSourceID    uint16
	GPSTime          float64
	Color            [3]uint16
	NIR              uint16

	WavePacketDescriptor uint8
	WavePacketOffset     uint64
	WavePacketSize       uint32
	WaveReturnLocation   float32
	WaveXt, WaveYt, WaveZt float32

	// ExtraBytes holds any user-appended bytes beyond the format's fixed
	// fields. DecodeRecord fills it from a buffer longer than the format's
	// length and EncodeRecord appends it when keepExtraBytes is set.
	// File.WriteRecord always drops it, so records written through File
	// carry no extra bytes, whatever copy_extra_bytes is set to.
	ExtraBytes []byte
}

// ErrShortRecord is returned when a record buffer is smaller than the
// format's fixed length.
var ErrShortRecord = errors.New("lasfile: record buffer shorter than format length")

// DecodeRecord parses one point record of the given format from buf. Any
// bytes beyond the format's fixed length are copied into p.ExtraBytes.
func DecodeRecord(format uint8, buf []byte) (Point, error) {
	length := int(RecordLength(format))
	if length == 0 {
		return Point{}, errors.Wrapf(ErrUnknownFormat, "format %d", format)
	}
	if len(buf) < length {
		return Point{}, ErrShortRecord
	}

	var p Point
	p.X = int32(binary.LittleEndian.Uint32(buf[0:4]))
	p.Y = int32(binary.LittleEndian.Uint32(buf[4:8]))
	p.Z = int32(binary.LittleEndian.Uint32(buf[8:12]))
	p.Intensity = binary.LittleEndian.Uint16(buf[12:14])

	off := 14
	if IsExtended(format) {
		flags := buf[off]
		p.ReturnNumber = flags & 0x0F
		p.NumberOfReturns = flags >> 4
		off++
		flags2 := buf[off]
		p.ClassificationFlags = flags2 & 0x0F
		p.ScannerChannel = (flags2 >> 4) & 0x03
		p.ScanDirection = flags2&0x40 != 0
		p.EdgeOfFlightLine = flags2&0x80 != 0
		off++
		p.Classification = buf[off]
		off++
		p.UserData = buf[off]
		off++
		p.ScanAngle = float64(int16(binary.LittleEndian.Uint16(buf[off:off+2]))) * 0.006
		off += 2
		p.PointSourceID = binary.LittleEndian.Uint16(buf[off : off+2])
		off += 2
	} else {
		flags := buf[off]
		p.ReturnNumber = flags & 0x07
		p.NumberOfReturns = (flags >> 3) & 0x07
		p.ScanDirection = flags&0x40 != 0
		p.EdgeOfFlightLine = flags&0x80 != 0
		off++
		p.Classification = buf[off] & 0x1F
		off++
		p.ScanAngle = float64(int8(buf[off]))
		off++
		p.UserData = buf[off]
		off++
		p.PointSourceID = binary.LittleEndian.Uint16(buf[off : off+2])
		off += 2
	}

	if HasGPSTime(format) {
		p.GPSTime = math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	if HasColor(format) {
		p.Color[0] = binary.LittleEndian.Uint16(buf[off : off+2])
		p.Color[1] = binary.LittleEndian.Uint16(buf[off+2 : off+4])
		p.Color[2] = binary.LittleEndian.Uint16(buf[off+4 : off+6])
		off += 6
	}
	if HasNIR(format) {
		p.NIR = binary.LittleEndian.Uint16(buf[off : off+2])
		off += 2
	}
	if HasWavePacket(format) {
		p.WavePacketDescriptor = buf[off]
		off++
		p.WavePacketOffset = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		p.WavePacketSize = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		p.WaveReturnLocation = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		p.WaveXt = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		p.WaveYt = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		p.WaveZt = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}

	if len(buf) > length {
		p.ExtraBytes = append([]byte(nil), buf[length:]...)
	}

	return p, nil
}

// EncodeRecord serializes p into one point record of the given format,
// appending p.ExtraBytes verbatim when keepExtraBytes is set.
func EncodeRecord(format uint8, p Point, keepExtraBytes bool) ([]byte, error) {
	length := int(RecordLength(format))
	if length == 0 {
		return nil, errors.Wrapf(ErrUnknownFormat, "format %d", format)
	}

	total := length
	if keepExtraBytes {
		total += len(p.ExtraBytes)
	}
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.X))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Y))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Z))
	binary.LittleEndian.PutUint16(buf[12:14], p.Intensity)

	off := 14
	if IsExtended(format) {
		buf[off] = (p.ReturnNumber & 0x0F) | (p.NumberOfReturns << 4)
		off++
		flags2 := p.ClassificationFlags & 0x0F
		flags2 |= (p.ScannerChannel & 0x03) << 4
		if p.ScanDirection {
			flags2 |= 0x40
		}
		if p.EdgeOfFlightLine {
			flags2 |= 0x80
		}
		buf[off] = flags2
		off++
		buf[off] = p.Classification
		off++
		buf[off] = p.UserData
		off++
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(int16(p.ScanAngle/0.006)))
		off += 2
		binary.LittleEndian.PutUint16(buf[off:off+2], p.PointSourceID)
		off += 2
	} else {
		flags := p.ReturnNumber & 0x07
		flags |= (p.NumberOfReturns & 0x07) << 3
		if p.ScanDirection {
			flags |= 0x40
		}
		if p.EdgeOfFlightLine {
			flags |= 0x80
		}
		buf[off] = flags
		off++
		buf[off] = p.Classification & 0x1F
		off++
		buf[off] = byte(int8(p.ScanAngle))
		off++
		buf[off] = p.UserData
		off++
		binary.LittleEndian.PutUint16(buf[off:off+2], p.PointSourceID)
		off += 2
	}

	if HasGPSTime(format) {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(p.GPSTime))
		off += 8
	}
	if HasColor(format) {
		binary.LittleEndian.PutUint16(buf[off:off+2], p.Color[0])
		binary.LittleEndian.PutUint16(buf[off+2:off+4], p.Color[1])
		binary.LittleEndian.PutUint16(buf[off+4:off+6], p.Color[2])
		off += 6
	}
	if HasNIR(format) {
		binary.LittleEndian.PutUint16(buf[off:off+2], p.NIR)
		off += 2
	}
	if HasWavePacket(format) {
		buf[off] = p.WavePacketDescriptor
		off++
		binary.LittleEndian.PutUint64(buf[off:off+8], p.WavePacketOffset)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:off+4], p.WavePacketSize)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(p.WaveReturnLocation))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(p.WaveXt))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(p.WaveYt))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(p.WaveZt))
		off += 4
	}

	if keepExtraBytes && len(p.ExtraBytes) > 0 {
		copy(buf[length:], p.ExtraBytes)
	}

	return buf, nil
}

// UpgradeToExtended remaps a legacy-format point (0..5) onto an extended
// format (6..10) per spec §6.1: the 3-bit return-number/returns-count
// halves widen to 4 bits each, the 5-bit classification widens to a full
// byte, and the int8 scan-angle rank becomes a 0.006-degree-scaled int16.
// Points whose legacy fields were already at the narrower type's maximum
// are preserved exactly; no information is lost in the widening direction.
func UpgradeToExtended(p Point) Point {
	up := p
	up.ClassificationFlags = 0
	up.ScannerChannel = 0
	return up
}

// TargetExtendedFormat returns the extended-format equivalent of a legacy
// format, keeping color/NIR/wave-packet channels equivalent to the source.
func TargetExtendedFormat(legacy uint8) uint8 {
	switch legacy {
	case 0:
		return 6
	case 1:
		return 6
	case 2:
		return 7
	case 3:
		return 7
	case 4:
		return 9
	case 5:
		return 10
	default:
		return legacy
	}
}
