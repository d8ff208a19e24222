// pkg/builder/builder.go
package builder

import (
	"math"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/lasfile"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/octreeindex"
)

// Builder drives the point file through the ordered state machine of
// spec §4.3, yielding control to the caller whenever a per-step time
// budget is exhausted (Next), never blocking on its own.
type Builder struct {
	settings Settings
	state    State

	inputPath  string
	outputPath string
	tempPath   string
	sidecarPath string

	in  *lasfile.File
	out *lasfile.File

	attrIn  *lasfile.AttributeStreams
	attrOut *lasfile.AttributeStreams

	sidecar *os.File

	bounds         geom.Box
	intensityMax   uint16
	colorMax       uint16

	coarseLoader *octreeindex.BulkLoader
	coarseTree   *octreeindex.Tree
	usedCounters []uint64
	sidecarCursor int64

	leaves      []octreeindex.Selected
	leafCursor  int

	cursor  uint64
	maximum uint64
}

// Open starts a build from inputPath (an existing lasfile dataset) to
// outputPath, via a temporary working file. No I/O beyond stat/open
// happens until the first Next call (spec §4.3 state 1 is the first unit
// of work Next performs).
func Open(inputPath, outputPath string, settings Settings) (*Builder, error) {
	settings, err := settings.Validate()
	if err != nil {
		return nil, err
	}

	in, err := lasfile.Open(inputPath)
	if err != nil {
		return nil, errors.Wrap(err, "builder: open input")
	}

	return &Builder{
		settings:    settings,
		state:       StateCreateAttributes,
		inputPath:   inputPath,
		outputPath:  outputPath,
		tempPath:    outputPath + ".tmp",
		sidecarPath: outputPath + ".idx",
		in:          in,
		bounds:      geom.EmptyBox(),
	}, nil
}

// State returns the state the next call to Next will work on or
// continue working on.
func (b *Builder) State() State { return b.state }

// Next executes work until budget elapses or the current state
// completes, in which case it advances to the next state and returns.
// Progress.Done is true once NODE_END has completed and the builder has
// reached StateEnd, which does no work of its own.
func (b *Builder) Next(budget time.Duration) (Progress, error) {
	deadline := time.Now().Add(budget)

	if b.state == StateEnd {
		return Progress{State: StateEnd, Done: true}, nil
	}

	var err error
	switch b.state {
	case StateCreateAttributes:
		err = b.stepCreateAttributes()
	case StateCopyVLR:
		err = b.stepCopyVLR()
	case StateCopyPoints:
		err = b.stepCopyPoints(deadline)
	case StateCopyEVLR:
		err = b.stepCopyEVLR()
	case StateMove:
		err = b.stepMove()
	case StateCopy:
		err = b.stepCopy()
	case StateCopyAttributes:
		err = b.stepCopyAttributes()
	case StateMainBegin:
		err = b.stepMainBegin()
	case StateMainInsert:
		err = b.stepMainInsert(deadline)
	case StateMainEnd:
		err = b.stepMainEnd()
	case StateMainSort:
		err = b.stepMainSort(deadline)
	case StateNodeInsert:
		err = b.stepNodeInsert(deadline)
	case StateNodeEnd:
		err = b.stepNodeEnd()
	default:
		err = errors.Errorf("builder: unknown state %v", b.state)
	}

	if err != nil {
		return Progress{State: b.state, Current: b.cursor, Maximum: b.maximum}, errors.Wrapf(err, "builder: state %s", b.state)
	}

	done := b.cursor >= b.maximum
	progress := Progress{State: b.state, Current: b.cursor, Maximum: b.maximum}
	if done {
		b.advance()
		progress.State = b.state
	}
	if b.state == StateEnd && done {
		progress.Done = true
	}
	return progress, nil
}

// Run drives the builder to completion, calling Next in a loop with the
// given per-step budget. It is the blocking convenience form of
// build_index (spec §6.3).
func (b *Builder) Run(budget time.Duration) error {
	for {
		p, err := b.Next(budget)
		if err != nil {
			return err
		}
		if p.Done {
			return nil
		}
	}
}

func (b *Builder) advance() {
	if b.state < stateCount-1 {
		b.state++
	}
	b.cursor = 0
	b.maximum = 0
}

// --- state 1: CREATE_ATTRIBUTES ---

func (b *Builder) stepCreateAttributes() error {
	n := b.in.Header.PointCount()
	attrPath := b.tempPath
	streams, err := lasfile.CreateAttributeStreams(attrPath, n)
	if err != nil {
		return err
	}
	b.attrOut = streams

	format := b.in.Header.PointDataFormat
	if b.settings.ConvertToVersion1_4 {
		format = lasfile.TargetExtendedFormat(format)
	}
	out, err := lasfile.Create(b.tempPath, format, b.outMinorVersion(), n)
	if err != nil {
		return err
	}
	out.Header.ScaleX, out.Header.ScaleY, out.Header.ScaleZ = b.in.Header.ScaleX, b.in.Header.ScaleY, b.in.Header.ScaleZ
	out.Header.OffsetX, out.Header.OffsetY, out.Header.OffsetZ = b.in.Header.OffsetX, b.in.Header.OffsetY, b.in.Header.OffsetZ
	b.out = out

	b.maximum = 1
	b.cursor = 1
	return nil
}

func (b *Builder) outMinorVersion() uint8 {
	if b.settings.ConvertToVersion1_4 {
		return 4
	}
	return b.in.Header.VersionMinor
}

// --- state 2: COPY_VLR ---
// VLR bytes between the version header and the point records are not
// modeled as a separate region in this implementation (the input/output
// headers are fixed-size and self-contained); this state is a no-op
// placeholder preserved for state-sequence fidelity with spec §4.3.
func (b *Builder) stepCopyVLR() error {
	b.maximum = 1
	b.cursor = 1
	return nil
}

// --- state 11: COPY_POINTS ---

func (b *Builder) stepCopyPoints(deadline time.Time) error {
	n := b.in.Header.PointCount()
	if b.maximum == 0 {
		b.maximum = n
	}

	skip := b.randomizeSkipStep(n)
	order := b.settings.RandomizePoints

	for b.cursor < b.maximum {
		if time.Now().After(deadline) {
			return nil
		}

		srcOrdinal := b.cursor
		dstOrdinal := srcOrdinal
		if order && skip > 0 {
			dstOrdinal = (srcOrdinal * skip) % n
		}

		rec, err := b.in.ReadRecord(srcOrdinal)
		if err != nil {
			return err
		}
		if !b.settings.CopyExtraBytes {
			rec.ExtraBytes = nil
		}

		world := b.in.Unscaled(rec)
		b.bounds = b.bounds.Extend(world)
		if rec.Intensity > b.intensityMax {
			b.intensityMax = rec.Intensity
		}
		for _, c := range rec.Color {
			if c > b.colorMax {
				b.colorMax = c
			}
		}

		if b.settings.ConvertToVersion1_4 && !lasfile.IsExtended(b.out.Header.PointDataFormat) {
			rec = lasfile.UpgradeToExtended(rec)
		}
		x, y, z := b.out.ToRecordCoords(world)
		rec.X, rec.Y, rec.Z = x, y, z

		if err := b.out.WriteRecord(dstOrdinal, rec); err != nil {
			return err
		}

		b.cursor++
	}
	return nil
}

// randomizeSkipStep derives the decorrelation skip-step from the
// configured coarse-index node size bound, MaxIndexL1Size (spec §4.3
// state 11).
func (b *Builder) randomizeSkipStep(n uint64) uint64 {
	if n == 0 || b.settings.MaxIndexL1Size == 0 {
		return 0
	}
	leaves := (n + b.settings.MaxIndexL1Size - 1) / b.settings.MaxIndexL1Size
	if leaves == 0 {
		return 1
	}
	return leaves
}

// --- state 12: COPY_EVLR ---
func (b *Builder) stepCopyEVLR() error {
	b.maximum = 1
	b.cursor = 1
	return nil
}

// --- state 13: MOVE ---

func (b *Builder) stepMove() error {
	b.out.SetBounds(b.bounds)
	b.out.Header.SetPointCount(b.in.Header.PointCount())
	if err := b.out.RewriteHeader(); err != nil {
		return err
	}
	if err := b.out.Close(); err != nil {
		return err
	}
	if err := b.in.Close(); err != nil {
		return err
	}
	if err := b.attrOut.Close(); err != nil {
		return err
	}

	reopened, err := lasfile.Open(b.tempPath)
	if err != nil {
		return err
	}
	b.in = reopened

	attrs, err := lasfile.OpenAttributeStreams(b.tempPath)
	if err != nil {
		return err
	}
	b.attrIn = attrs

	// b.out/b.attrOut pointed at the now-closed, now-promoted temp file;
	// MAIN_SORT's writeSorted lazily (re)creates the real output files.
	b.out = nil
	b.attrOut = nil

	b.maximum = 1
	b.cursor = 1
	return nil
}

// --- state 14: COPY ---
// The promoted file (now b.in) already holds the reformatted records, so
// no byte range needs a bulk copy in this layout; it is a no-op
// placeholder preserved for state-sequence fidelity with spec §4.3.
func (b *Builder) stepCopy() error {
	b.maximum = 1
	b.cursor = 1
	return nil
}

// --- state 15: COPY_ATTRIBUTES ---
// The attribute streams were already reopened in MOVE; MAIN_SORT reads
// each point's values from them and writes them to the output's streams
// at the point's sorted ordinal, so no separate copy pass is needed.
func (b *Builder) stepCopyAttributes() error {
	b.maximum = 1
	b.cursor = 1
	return nil
}

// --- state 16: MAIN_BEGIN ---

func (b *Builder) stepMainBegin() error {
	cube := b.bounds.Cube()
	b.coarseLoader = octreeindex.BuildBegin(cube, b.settings.MaxIndexL1Size, b.settings.MaxIndexL1Level, false)
	b.maximum = 1
	b.cursor = 1
	return nil
}

// --- state 17: MAIN_INSERT ---

func (b *Builder) stepMainInsert(deadline time.Time) error {
	n := b.in.Header.PointCount()
	if b.maximum == 0 {
		b.maximum = n
	}
	for b.cursor < b.maximum {
		if time.Now().After(deadline) {
			return nil
		}
		rec, err := b.in.ReadRecord(b.cursor)
		if err != nil {
			return err
		}
		b.coarseLoader.Insert(b.in.Unscaled(rec))
		b.cursor++
	}
	return nil
}

// --- state 18: MAIN_END ---

func (b *Builder) stepMainEnd() error {
	b.coarseTree = b.coarseLoader.BuildEnd()
	b.coarseTree.PointsBox = b.bounds

	f, err := os.Create(b.sidecarPath)
	if err != nil {
		return err
	}
	b.sidecar = f

	n, err := octreeindex.WriteChunk(b.sidecar, b.coarseTree)
	if err != nil {
		return err
	}
	b.sidecarCursor = n

	b.usedCounters = make([]uint64, len(b.coarseTree.Nodes))

	b.maximum = 1
	b.cursor = 1
	return nil
}

// --- state 19: MAIN_SORT ---

func (b *Builder) stepMainSort(deadline time.Time) error {
	n := b.in.Header.PointCount()
	if b.maximum == 0 {
		b.maximum = n
	}

	normalizeIntensity := b.intensityMax > 0 && b.intensityMax < 256
	normalizeColor := b.colorMax > 0 && b.colorMax < 256

	for b.cursor < b.maximum {
		if time.Now().After(deadline) {
			return nil
		}
		srcOrdinal := b.cursor
		rec, err := b.in.ReadRecord(srcOrdinal)
		if err != nil {
			return err
		}
		world := b.in.Unscaled(rec)
		leaf := b.coarseTree.SelectNodeWithUsed(b.usedCounters, world)
		node := &b.coarseTree.Nodes[leaf-1]
		dstOrdinal := node.From + b.usedCounters[leaf-1] - 1

		if normalizeIntensity {
			rec.Intensity = scaleTo16Bit(rec.Intensity, b.intensityMax)
		}
		if normalizeColor {
			for i := range rec.Color {
				rec.Color[i] = scaleTo16Bit(rec.Color[i], b.colorMax)
			}
		}

		segment, _ := b.attrIn.Segment.Get(srcOrdinal)
		elevation, _ := b.attrIn.Elevation.Get(srcOrdinal)
		descriptor, _ := b.attrIn.Descriptor.Get(srcOrdinal)
		voxel, _ := b.attrIn.Voxel.Get(srcOrdinal)

		if err := b.writeSorted(dstOrdinal, rec, segment, elevation, descriptor, voxel); err != nil {
			return err
		}

		b.cursor++
	}
	return nil
}

func scaleTo16Bit(v, observedMax uint16) uint16 {
	if observedMax == 0 {
		return v
	}
	return uint16(math.Round(float64(v) / float64(observedMax) * 65535))
}

// writeSorted writes the final ordinal's record and attributes straight
// into the dataset's permanent output files, creating them on first use.
// There is no second staging file: every ordinal is assigned exactly once
// by SelectNodeWithUsed, so each output slot is written once.
func (b *Builder) writeSorted(ordinal uint64, rec lasfile.Point, segment uint32, elevation, descriptor float32, voxel uint32) error {
	if b.out == nil {
		reopened, err := lasfile.Create(b.outputPath, b.in.Header.PointDataFormat, b.in.Header.VersionMinor, b.in.Header.PointCount())
		if err != nil {
			return err
		}
		reopened.Header.ScaleX, reopened.Header.ScaleY, reopened.Header.ScaleZ = b.in.Header.ScaleX, b.in.Header.ScaleY, b.in.Header.ScaleZ
		reopened.Header.OffsetX, reopened.Header.OffsetY, reopened.Header.OffsetZ = b.in.Header.OffsetX, b.in.Header.OffsetY, b.in.Header.OffsetZ
		reopened.SetBounds(b.bounds)
		if err := reopened.RewriteHeader(); err != nil {
			return err
		}
		b.out = reopened

		attrs, err := lasfile.CreateAttributeStreams(b.outputPath, b.in.Header.PointCount())
		if err != nil {
			return err
		}
		b.attrOut = attrs
	}

	if err := b.out.WriteRecord(ordinal, rec); err != nil {
		return err
	}
	if err := b.attrOut.Segment.Set(ordinal, segment); err != nil {
		return err
	}
	if err := b.attrOut.Elevation.Set(ordinal, elevation); err != nil {
		return err
	}
	if err := b.attrOut.Descriptor.Set(ordinal, descriptor); err != nil {
		return err
	}
	return b.attrOut.Voxel.Set(ordinal, voxel)
}

// --- state 20: NODE_INSERT ---

func (b *Builder) stepNodeInsert(deadline time.Time) error {
	if b.leaves == nil {
		var out []octreeindex.Selected
		b.coarseTree.SelectLeaves(b.coarseTree.RootBox, &out)
		b.leaves = out
		b.maximum = uint64(len(out))
		b.cursor = 0
		b.leafCursor = 0
	}

	for b.leafCursor < len(b.leaves) {
		if time.Now().After(deadline) {
			return nil
		}
		if err := b.buildFineOctreeForLeaf(b.leaves[b.leafCursor].Node); err != nil {
			return err
		}
		b.leafCursor++
		b.cursor = uint64(b.leafCursor)
	}
	return nil
}

func (b *Builder) buildFineOctreeForLeaf(leaf octreeindex.NodeRef) error {
	node := &b.coarseTree.Nodes[leaf-1]
	if node.Size == 0 {
		return nil
	}

	leafBounds := geom.EmptyBox()
	worlds := make([]r3.Vector, node.Size)
	for i := uint64(0); i < node.Size; i++ {
		rec, err := b.out.ReadRecord(node.From + i)
		if err != nil {
			return err
		}
		v := b.out.Unscaled(rec)
		leafBounds = leafBounds.Extend(v)
		worlds[i] = v
	}

	fine := octreeindex.BuildBegin(leafBounds, b.settings.MaxIndexL2Size, b.settings.MaxIndexL2Level, true)
	for _, v := range worlds {
		fine.Insert(v)
	}
	tree := fine.BuildEnd()

	n, err := octreeindex.WriteChunk(b.sidecar, tree)
	if err != nil {
		return err
	}
	node.Offset = uint64(b.sidecarCursor)
	b.sidecarCursor += n

	return nil
}

// --- state 21: NODE_END ---

func (b *Builder) stepNodeEnd() error {
	if _, err := b.sidecar.Seek(0, 0); err != nil {
		return err
	}
	if _, err := octreeindex.WriteChunk(b.sidecar, b.coarseTree); err != nil {
		return err
	}
	if err := b.sidecar.Close(); err != nil {
		return err
	}

	if err := b.out.Close(); err != nil {
		return err
	}
	if err := b.attrOut.Close(); err != nil {
		return err
	}
	if err := b.in.Close(); err != nil {
		return err
	}
	if err := b.attrIn.Close(); err != nil {
		return err
	}
	for _, ext := range []string{".segment", ".elevation", ".descriptor", ".voxel"} {
		os.Remove(b.tempPath + ext)
	}
	os.Remove(b.tempPath)

	b.maximum = 1
	b.cursor = 1
	return nil
}

