package shell

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r3"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/builder"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/editor"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/geom"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/page"
	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/query"
)

// Session drives the interactive loop: it reads dot-commands from a
// Shell and dispatches them against at most one open editor.Handle.
type Session struct {
	shell *Shell

	output    io.Writer
	errOutput io.Writer

	handle       *editor.Handle
	datasetPaths []string
	cacheBytes   int64

	running       bool
	exitRequested bool
}

// NewSession creates a session reading dot-commands from input.
func NewSession(input io.Reader, output, errOutput io.Writer) *Session {
	if errOutput == nil {
		errOutput = output
	}
	return &Session{
		shell:      NewShell(input, output, errOutput),
		output:     output,
		errOutput:  errOutput,
		cacheBytes: 256 << 20,
	}
}

// Close releases the currently open editor handle, if any.
func (s *Session) Close() error {
	if s.handle != nil {
		return s.handle.Close()
	}
	return nil
}

// Run starts the read-dispatch loop until EOF or ".exit".
func (s *Session) Run() {
	s.running = true
	s.exitRequested = false

	fmt.Fprintln(s.output, "forestindex shell")
	fmt.Fprintln(s.output, `Enter ".help" for usage hints.`)

	for s.running && !s.exitRequested {
		line, eof := s.shell.ReadLine()
		trimmed := strings.TrimSpace(line)

		if trimmed != "" {
			s.dispatch(trimmed)
		}
		if eof {
			fmt.Fprintln(s.output)
			break
		}
	}
	s.running = false
}

func (s *Session) dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case ".exit", ".quit":
		s.exitRequested = true
	case ".help":
		s.printHelp()
	case ".build":
		s.cmdBuild(args)
	case ".open":
		s.cmdOpen(args)
	case ".flush":
		s.cmdFlush()
	case ".color":
		s.cmdColor(args)
	case ".query":
		s.cmdQuery(args)
	default:
		fmt.Fprintf(s.errOutput, "unknown command: %s\n", cmd)
		fmt.Fprintln(s.errOutput, `use ".help" for usage hints.`)
	}
}

func (s *Session) printHelp() {
	const help = `
.build <input> <output>    Build an index from input into output (+.idx sidecar)
.open <path> [path...]     Open one or more built datasets
.query <key=value...>      Run a where-clause query against open datasets
.color <path> <source>     Set a dataset's render color source
.flush                     Write back dirty pages across every open dataset
.exit, .quit                Exit this program
.help                       Show this help message

Query keys: classification=N[,N...] segment=N[,N...] max=N
            sphere=cx,cy,cz,r  box=minx,miny,minz,maxx,maxy,maxz
            eye=x,y,z
`
	fmt.Fprintln(s.output, help)
}

func (s *Session) cmdBuild(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.errOutput, "usage: .build <input> <output>")
		return
	}
	settings := builder.DefaultSettings()
	if err := editor.BuildIndex(args[0], args[1], settings); err != nil {
		fmt.Fprintf(s.errOutput, "build failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.output, "built %s -> %s\n", args[0], args[1])
}

func (s *Session) cmdOpen(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.errOutput, "usage: .open <path> [path...]")
		return
	}
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			fmt.Fprintf(s.errOutput, "closing previous handle: %v\n", err)
		}
	}
	h, err := editor.OpenEditor(args, s.cacheBytes)
	if err != nil {
		fmt.Fprintf(s.errOutput, "open failed: %v\n", err)
		s.handle = nil
		return
	}
	s.handle = h
	s.datasetPaths = args
	fmt.Fprintf(s.output, "opened %d dataset(s)\n", len(args))
}

func (s *Session) cmdFlush() {
	if s.handle == nil {
		fmt.Fprintln(s.errOutput, "no dataset open; use .open first")
		return
	}
	if err := s.handle.Flush(); err != nil {
		fmt.Fprintf(s.errOutput, "flush failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.output, "flushed")
}

func (s *Session) cmdColor(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.errOutput, "usage: .color <path> <source>")
		return
	}
	if s.handle == nil {
		fmt.Fprintln(s.errOutput, "no dataset open; use .open first")
		return
	}
	source, ok := parseColorSource(args[1])
	if !ok {
		fmt.Fprintf(s.errOutput, "unknown color source: %s\n", args[1])
		return
	}
	if err := s.handle.SetColorSource(args[0], source); err != nil {
		fmt.Fprintf(s.errOutput, "color failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.output, "%s color source set to %s\n", args[0], args[1])
}

func parseColorSource(name string) (page.ColorSource, bool) {
	switch strings.ToLower(name) {
	case "rgb":
		return page.ColorSourceRGB, true
	case "intensity":
		return page.ColorSourceIntensity, true
	case "returnnumber":
		return page.ColorSourceReturnNumber, true
	case "numberofreturns":
		return page.ColorSourceNumberOfReturns, true
	case "classification":
		return page.ColorSourceClassification, true
	case "segment":
		return page.ColorSourceSegment, true
	case "species":
		return page.ColorSourceSpecies, true
	case "managementstatus":
		return page.ColorSourceManagementStatus, true
	case "elevation":
		return page.ColorSourceElevation, true
	case "descriptor":
		return page.ColorSourceDescriptor, true
	case "uniform":
		return page.ColorSourceUniform, true
	default:
		return 0, false
	}
}

func (s *Session) cmdQuery(args []string) {
	if s.handle == nil {
		fmt.Fprintln(s.errOutput, "no dataset open; use .open first")
		return
	}
	where, eye, err := parseQueryArgs(args)
	if err != nil {
		fmt.Fprintf(s.errOutput, "bad query: %v\n", err)
		return
	}

	start := time.Now()
	var matched int
	err = s.handle.RunQuery(where, eye, func(path string, pg *page.Page, ordinal uint32) error {
		matched++
		return nil
	})
	if err != nil {
		fmt.Fprintf(s.errOutput, "query failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.output, "%d point(s) matched (%s)\n", matched, time.Since(start).Round(time.Millisecond))
}

// parseQueryArgs turns "key=value" tokens into a Where and a camera eye
// position. Unknown keys are rejected rather than silently ignored.
func parseQueryArgs(args []string) (query.Where, r3.Vector, error) {
	var where query.Where
	eye := r3.Vector{}

	for _, tok := range args {
		parts := strings.SplitN(tok, "=", 2)
		if len(parts) != 2 {
			return where, eye, fmt.Errorf("expected key=value, got %q", tok)
		}
		key, value := parts[0], parts[1]

		switch key {
		case "classification":
			where.Classification.Enabled = true
			for _, v := range strings.Split(value, ",") {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 || n >= len(where.Classification.Allowed) {
					return where, eye, fmt.Errorf("bad classification code %q", v)
				}
				where.Classification.Allowed[n] = true
			}
		case "segment":
			if where.Segments == nil {
				where.Segments = make(map[uint32]bool)
			}
			for _, v := range strings.Split(value, ",") {
				n, err := strconv.ParseUint(v, 10, 32)
				if err != nil {
					return where, eye, fmt.Errorf("bad segment id %q", v)
				}
				where.Segments[uint32(n)] = true
			}
		case "max":
			n, err := strconv.Atoi(value)
			if err != nil {
				return where, eye, fmt.Errorf("bad max %q", value)
			}
			where.MaximumResults = n
		case "sphere":
			nums, err := parseFloats(value, 4)
			if err != nil {
				return where, eye, err
			}
			center := r3.Vector{X: nums[0], Y: nums[1], Z: nums[2]}
			radius := nums[3]
			where.Region = geom.Region{
				Kind:   geom.ShapeSphere,
				Box:    geom.NewBox(center.Sub(r3.Vector{X: radius, Y: radius, Z: radius}), center.Add(r3.Vector{X: radius, Y: radius, Z: radius})),
				Center: center,
				Radius: radius,
			}
		case "box":
			nums, err := parseFloats(value, 6)
			if err != nil {
				return where, eye, err
			}
			min := r3.Vector{X: nums[0], Y: nums[1], Z: nums[2]}
			max := r3.Vector{X: nums[3], Y: nums[4], Z: nums[5]}
			where.Region = geom.Region{Kind: geom.ShapeBox, Box: geom.NewBox(min, max)}
		case "eye":
			nums, err := parseFloats(value, 3)
			if err != nil {
				return where, eye, err
			}
			eye = r3.Vector{X: nums[0], Y: nums[1], Z: nums[2]}
		default:
			return where, eye, fmt.Errorf("unknown query key %q", key)
		}
	}
	return where, eye, nil
}

func parseFloats(value string, n int) ([]float64, error) {
	parts := strings.Split(value, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %d in %q", n, len(parts), value)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", p)
		}
		out[i] = f
	}
	return out, nil
}
