package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PhaseTiming is one completed phase and its duration.
type PhaseTiming struct {
	Phase     Step
	ElapsedMs int64
}

// PhaseTimes maps phase name to duration, kept in completion order.
// It encodes to JSON as an object whose keys follow that order.
type PhaseTimes []PhaseTiming

// Get returns the recorded duration for phase.
func (p PhaseTimes) Get(phase Step) (int64, bool) {
	for _, t := range p {
		if t.Phase == phase {
			return t.ElapsedMs, true
		}
	}
	return 0, false
}

// Keys returns the recorded phases in insertion order.
func (p PhaseTimes) Keys() []Step {
	keys := make([]Step, len(p))
	for i, t := range p {
		keys[i] = t.Phase
	}
	return keys
}

// With returns a copy of p with phase appended. An existing phase is left untouched.
func (p PhaseTimes) With(phase Step, elapsedMs int64) PhaseTimes {
	if _, ok := p.Get(phase); ok {
		return p.Clone()
	}
	out := make(PhaseTimes, len(p), len(p)+1)
	copy(out, p)
	return append(out, PhaseTiming{Phase: phase, ElapsedMs: elapsedMs})
}

// Clone returns an independent copy of p; nil stays empty but non-nil.
func (p PhaseTimes) Clone() PhaseTimes {
	out := make(PhaseTimes, len(p))
	copy(out, p)
	return out
}

// MarshalJSON encodes p as an ordered JSON object.
func (p PhaseTimes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(t.Phase))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", t.ElapsedMs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the key order of the input.
func (p *PhaseTimes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("phase times: expected object, got %v", tok)
	}

	out := PhaseTimes{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("phase times: unexpected key %v", keyTok)
		}
		var ms int64
		if err := dec.Decode(&ms); err != nil {
			return fmt.Errorf("phase times: value for %q: %w", key, err)
		}
		out = out.With(Step(key), ms)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// ProgressState is the observable state of the grading progress controller.
type ProgressState struct {
	RunID          string     `json:"run_id,omitempty"`
	JobID          string     `json:"job_id,omitempty"`
	Step           Step       `json:"step"`
	Error          string     `json:"error,omitempty"`
	PhaseElapsedMs *int64     `json:"phase_elapsed_ms,omitempty"`
	TotalElapsedMs int64      `json:"total_elapsed_ms"`
	PhaseTimes     PhaseTimes `json:"phase_times"`
	IsOpen         bool       `json:"is_open"`
}

// InitialProgressState returns the state before any run and after close.
func InitialProgressState() ProgressState {
	return ProgressState{
		Step:       StepNone,
		PhaseTimes: PhaseTimes{},
	}
}

// Clone returns a deep copy safe to hand to observers.
func (s ProgressState) Clone() ProgressState {
	out := s
	out.PhaseTimes = s.PhaseTimes.Clone()
	if s.PhaseElapsedMs != nil {
		v := *s.PhaseElapsedMs
		out.PhaseElapsedMs = &v
	}
	return out
}
