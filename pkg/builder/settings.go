// pkg/builder/settings.go
// Package builder implements the resumable, time-budgeted index builder
// described in spec.md §4.3: a state machine that copies an input point
// file into a reordered output file plus its octree sidecar.
package builder

import (
	"github.com/pkg/errors"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/page"
)

// Settings is the plain options object the builder consumes (spec §6.3's
// operational surface table).
type Settings struct {
	RandomizePoints     bool
	ConvertToVersion1_4 bool
	CopyExtraBytes      bool
	MaxIndexL1Size      uint64
	MaxIndexL1Level     int
	MaxIndexL2Size      uint64
	MaxIndexL2Level     int
	BufferSize          int
	CacheBytes          int64
	ColorSource         page.ColorSource
}

// DefaultSettings returns the settings a fresh build uses when the caller
// does not override anything.
func DefaultSettings() Settings {
	return Settings{
		MaxIndexL1Size:  1_000_000,
		MaxIndexL1Level: 0, // 0 => implementation cap (17)
		MaxIndexL2Size:  1_000,
		MaxIndexL2Level: 0,
		BufferSize:      1 << 20,
		CacheBytes:      512 << 20,
		ColorSource:     page.ColorSourceRGB,
	}
}

// Validate clamps and rejects nonsensical settings, returning the
// corrected value. It never fails on zero values — zero means "use the
// implementation default" throughout this table.
func (s Settings) Validate() (Settings, error) {
	if s.MaxIndexL1Size == 0 {
		s.MaxIndexL1Size = DefaultSettings().MaxIndexL1Size
	}
	if s.MaxIndexL2Size == 0 {
		s.MaxIndexL2Size = DefaultSettings().MaxIndexL2Size
	}
	if s.BufferSize <= 0 {
		s.BufferSize = DefaultSettings().BufferSize
	}
	if s.CacheBytes < 0 {
		return s, errors.New("builder: cache_bytes must not be negative")
	}
	if s.MaxIndexL1Level < 0 || s.MaxIndexL2Level < 0 {
		return s, errors.New("builder: level caps must not be negative")
	}
	return s, nil
}
