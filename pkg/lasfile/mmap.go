// pkg/lasfile/mmap.go
package lasfile

// MmapFile provides memory-mapped access to a point-record file. Platform
// specific implementations live in mmap_unix.go and mmap_windows.go.
//
// Unlike a generic paged file, a point-record file's size is known in
// full before the mapping is ever created: Create computes it once from
// the requested point count (header size plus point count times record
// size, see Header.PointDataLength) and the record count never changes
// afterward — there is no append path that adds records one at a time.
// MmapFile therefore has no Grow; its size is fixed for the life of the
// mapping.
type MmapFile struct {
	file interface{} // *os.File on Unix, a windows handle wrapper on Windows
	data []byte
	size int64
}

// Size returns the current mapped file size.
func (m *MmapFile) Size() int64 {
	return m.size
}

// Slice returns a slice of the mapped memory at the given offset and
// length, or nil if the range is out of bounds.
func (m *MmapFile) Slice(offset, length int) []byte {
	if offset < 0 || length < 0 || offset+length > len(m.data) {
		return nil
	}
	return m.data[offset : offset+length]
}
