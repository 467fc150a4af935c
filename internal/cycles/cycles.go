package cycles

import (
	"github.com/yungbote/docwriter-backend/internal/document"
)

/*
State is the cycle-accounting invariant carrier:

	requested >= 1
	0 <= completed <= requested
	remaining = requested - completed

It is computed at stage entry, passed around immutably, and written back to
the outbound payload with Apply.
*/
type State struct {
	Requested int
	Completed int
}

// FromPayload derives the state from whatever cycle fields the payload
// carries. A payload with only cycles_remaining solves
// completed = requested - remaining.
func FromPayload(p *document.Payload) State {
	requested := 1
	if p.Cycles != nil {
		requested = *p.Cycles
	} else if p.ExpectedCycles != nil {
		requested = *p.ExpectedCycles
	}
	if requested < 1 {
		requested = 1
	}

	completed := 0
	if p.CyclesCompleted != nil {
		completed = *p.CyclesCompleted
	}
	completed = clamp(completed, 0, requested)

	if p.CyclesRemaining != nil {
		remaining := clamp(*p.CyclesRemaining, 0, requested-completed)
		completed = clamp(requested-remaining, 0, requested)
	}
	return State{Requested: requested, Completed: completed}
}

func (s State) Remaining() int {
	if s.Requested < s.Completed {
		return 0
	}
	return s.Requested - s.Completed
}

func (s State) Exhausted() bool { return s.Remaining() <= 0 }

// CycleIndex is the 1-based index of the cycle currently in flight.
func (s State) CycleIndex() int {
	idx := s.Completed + 1
	if idx > s.Requested {
		idx = s.Requested
	}
	return idx
}

// ConsumeRewrite advances the completed counter by one, capped at requested.
func (s State) ConsumeRewrite() State {
	if s.Exhausted() {
		return s
	}
	completed := s.Completed + 1
	if completed > s.Requested {
		completed = s.Requested
	}
	return State{Requested: s.Requested, Completed: completed}
}

// Apply writes all four cycle fields back into the payload.
func (s State) Apply(p *document.Payload) {
	requested := s.Requested
	completed := s.Completed
	remaining := s.Remaining()
	p.Cycles = &requested
	p.ExpectedCycles = &requested
	p.CyclesCompleted = &completed
	p.CyclesRemaining = &remaining
}

// EnrichDetails adds cycle metadata to a DONE event's details map without
// overwriting keys the caller already set.
func EnrichDetails(details map[string]interface{}, p *document.Payload, cycleIdx int) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+5)
	for k, v := range details {
		out[k] = v
	}
	if p != nil {
		state := FromPayload(p)
		setDefault(out, "requested_cycles", state.Requested)
		setDefault(out, "expected_cycles", state.Requested)
		setDefault(out, "cycles_completed", state.Completed)
		setDefault(out, "cycles_remaining", state.Remaining())
	}
	if cycleIdx > 0 {
		setDefault(out, "cycle_index", cycleIdx)
	}
	return out
}

func setDefault(m map[string]interface{}, key string, value interface{}) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
