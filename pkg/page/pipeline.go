package page

import "github.com/pkg/errors"

// PipelineState is one stage of a decoded page's rendering pipeline
// (spec §4.5): strictly monotone between resets.
type PipelineState int

const (
	StateRead PipelineState = iota
	StateTransform
	StateSelect
	StateRunModifiers
	StateRender
	StateRendered
)

func (s PipelineState) String() string {
	switch s {
	case StateRead:
		return "READ"
	case StateTransform:
		return "TRANSFORM"
	case StateSelect:
		return "SELECT"
	case StateRunModifiers:
		return "RUN_MODIFIERS"
	case StateRender:
		return "RENDER"
	case StateRendered:
		return "RENDERED"
	default:
		return "UNKNOWN"
	}
}

// ErrPipelineRegression is returned when a caller asks Reset to move a
// page's pipeline state forward (spec §7 "Invariant" error kind).
var ErrPipelineRegression = errors.New("page: pipeline state may not be reset forward")

// Advance moves the page forward exactly one pipeline stage, refusing to
// skip stages or move past StateRendered.
func (p *Page) Advance() error {
	if p.State >= StateRendered {
		return nil
	}
	next := p.State + 1
	switch next {
	case StateTransform:
		p.transform()
	case StateSelect:
		// population of p.Selection is the caller's responsibility (the
		// query engine owns §4.6's evaluation); Advance just unlocks it.
	case StateRunModifiers:
		p.runModifiers()
	case StateRender, StateRendered:
		// terminal stages carry no additional per-page work here.
	}
	p.State = next
	return nil
}

// Reset moves the page backward to an earlier stage. Resetting forward is
// rejected (spec §4.5 "never forward").
func (p *Page) Reset(to PipelineState) error {
	if to > p.State {
		return errors.Wrapf(ErrPipelineRegression, "reset to %s from %s", to, p.State)
	}
	p.State = to
	return nil
}
