// Package page implements the decoded, in-memory page described in
// spec.md §3 "Page (decoded)" and its rendering pipeline (§4.5): the unit
// the query engine and page cache operate on.
package page

import (
	"io"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/lasfile"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/octreeindex"
)

// Page is one coarse-index leaf's decoded point data plus its fine
// octree and pipeline state.
type Page struct {
	DatasetID int
	PageID    octreeindex.NodeRef

	Position        []r3.Vector // authoritative double-precision world coordinates
	RenderPosition  [][3]float32
	Intensity       []uint16
	ReturnNumber    []uint8
	NumberOfReturns []uint8
	Classification  []uint8
	UserData        []uint8
	GPSTime         []float64
	Color           [][3]uint16
	Segment         []uint32
	Elevation       []float32
	Descriptor      []float32
	Voxel           []uint32

	RenderColor [][3]float32

	Selection     []uint32
	SelectionSize int

	Fine *octreeindex.Tree

	State      PipelineState
	Modified   bool
	ColorSource ColorSource

	translation r3.Vector
}

// Read materializes a page from ds's records at [from, from+size) and the
// attribute side-streams, loading the leaf's fine octree from the
// sidecar at byteOffset (spec §4.5 "READ materializes the decoded page").
func Read(ds *lasfile.File, attrs *lasfile.AttributeStreams, sidecar io.ReaderAt, datasetID int, pageID octreeindex.NodeRef, from, size uint64, byteOffset uint64) (*Page, error) {
	p := &Page{
		DatasetID:       datasetID,
		PageID:          pageID,
		Position:        make([]r3.Vector, size),
		Intensity:       make([]uint16, size),
		ReturnNumber:    make([]uint8, size),
		NumberOfReturns: make([]uint8, size),
		Classification:  make([]uint8, size),
		UserData:        make([]uint8, size),
		GPSTime:         make([]float64, size),
		Color:           make([][3]uint16, size),
		Segment:         make([]uint32, size),
		Elevation:       make([]float32, size),
		Descriptor:      make([]float32, size),
		Voxel:           make([]uint32, size),
	}

	for i := uint64(0); i < size; i++ {
		rec, err := ds.ReadRecord(from + i)
		if err != nil {
			return nil, errors.Wrapf(err, "page: read record %d", from+i)
		}
		p.Position[i] = ds.Unscaled(rec)
		p.Intensity[i] = rec.Intensity
		p.ReturnNumber[i] = rec.ReturnNumber
		p.NumberOfReturns[i] = rec.NumberOfReturns
		p.Classification[i] = rec.Classification
		p.UserData[i] = rec.UserData
		p.GPSTime[i] = rec.GPSTime
		p.Color[i] = rec.Color

		seg, err := attrs.Segment.Get(from + i)
		if err != nil {
			return nil, err
		}
		p.Segment[i] = seg
		elev, err := attrs.Elevation.Get(from + i)
		if err != nil {
			return nil, err
		}
		p.Elevation[i] = elev
		desc, err := attrs.Descriptor.Get(from + i)
		if err != nil {
			return nil, err
		}
		p.Descriptor[i] = desc
		voxel, err := attrs.Voxel.Get(from + i)
		if err != nil {
			return nil, err
		}
		p.Voxel[i] = voxel
	}

	if byteOffset > 0 {
		tree, err := octreeindex.ReadChunkAt(sidecar, int64(byteOffset))
		if err != nil {
			return nil, errors.Wrap(err, "page: read fine octree")
		}
		p.Fine = tree
	}

	p.State = StateRead
	return p, nil
}

// SizeInMemory returns a deterministic estimate of the page's resident
// byte cost, used by the cache's byte-bounded eviction (spec §4.4).
func SizeInMemory(n uint64) uint64 {
	const perPointBytes = 24 /*Position*/ + 12 /*RenderPosition*/ + 2 + 1 + 1 + 1 + 1 + 8 + 6 + 4 + 4 + 4 + 4 + 12 /*RenderColor*/ + 4 /*Selection*/
	return n * perPointBytes
}

// transform subtracts the translation set by SetTranslation to produce
// render-space floats; Advance runs it when the page moves from StateRead
// to StateTransform (spec §4.5 TRANSFORM). The untransformed Position
// slice remains authoritative for every geometric filter.
func (p *Page) transform() {
	p.RenderPosition = make([][3]float32, len(p.Position))
	for i, v := range p.Position {
		d := v.Sub(p.translation)
		p.RenderPosition[i] = [3]float32{float32(d.X), float32(d.Y), float32(d.Z)}
	}
}

// SetTranslation sets the dataset-wide render-space translation applied
// by the next TRANSFORM stage (a supplemented feature: the original
// system keeps render coordinates close to the origin for float32
// precision, spec §4.5 "TRANSFORM applies the dataset translation").
func (p *Page) SetTranslation(t r3.Vector) {
	p.translation = t
}

// runModifiers paints RenderColor for every selected point from the
// configured color source (spec §4.5 RUN_MODIFIERS, §6.3 color_source).
func (p *Page) runModifiers() {
	p.RenderColor = make([][3]float32, len(p.Position))
	for _, idx := range p.Selection {
		p.RenderColor[idx] = p.renderColorFor(idx)
	}
}

func (p *Page) renderColorFor(i uint32) [3]float32 {
	switch p.ColorSource {
	case ColorSourceIntensity:
		return rampColor(float32(p.Intensity[i]), 0, 65535)
	case ColorSourceReturnNumber:
		return rampColor(float32(p.ReturnNumber[i]), 0, 15)
	case ColorSourceNumberOfReturns:
		return rampColor(float32(p.NumberOfReturns[i]), 0, 15)
	case ColorSourceClassification:
		c := p.Classification[i]
		if int(c) < len(classificationPalette) {
			return classificationPalette[c]
		}
		return hashColor(uint32(c))
	case ColorSourceSegment:
		return hashColor(p.Segment[i])
	case ColorSourceSpecies, ColorSourceManagementStatus:
		// resolved via the segment catalog at query time; colored by
		// segment id here since the raw page has no species/status field.
		return hashColor(p.Segment[i])
	case ColorSourceElevation:
		return rampColor(p.Elevation[i], 0, 30)
	case ColorSourceDescriptor:
		return rampColor(p.Descriptor[i], 0, 1)
	case ColorSourceUniform:
		return UniformColor
	default: // ColorSourceRGB
		c := p.Color[i]
		return [3]float32{float32(c[0]) / 65535, float32(c[1]) / 65535, float32(c[2]) / 65535}
	}
}
