package query

// SegmentInfo resolves a segment id to the species and management-status
// codes the species/management-status where-predicates filter on (spec
// §4.6 "Species filter and management-status filter — resolved via the
// segment list").
type SegmentInfo struct {
	Species          int
	ManagementStatus int
}

// SegmentCatalog is a dataset's segment -> species/management-status
// table, plus the default-segment id unsegmented points resolve to (a
// supplemented feature: the distilled spec names the lookup but not its
// storage; this is the minimal structure that can answer it).
type SegmentCatalog struct {
	entries        map[uint32]SegmentInfo
	defaultSegment uint32
}

// NewSegmentCatalog builds an empty catalog whose unsegmented points
// resolve to defaultSegment.
func NewSegmentCatalog(defaultSegment uint32) *SegmentCatalog {
	return &SegmentCatalog{entries: make(map[uint32]SegmentInfo), defaultSegment: defaultSegment}
}

// Set records (or overwrites) segmentID's species/management-status.
func (c *SegmentCatalog) Set(segmentID uint32, info SegmentInfo) {
	c.entries[segmentID] = info
}

// Lookup returns segmentID's info, and whether it is a known entry.
func (c *SegmentCatalog) Lookup(segmentID uint32) (SegmentInfo, bool) {
	info, ok := c.entries[segmentID]
	return info, ok
}

// DefaultSegment returns the segment id unsegmented points resolve to.
func (c *SegmentCatalog) DefaultSegment() uint32 { return c.defaultSegment }
