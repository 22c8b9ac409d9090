package vm

import "errors"

// ErrStepLimit is returned when a machine exhausts its step budget.
var ErrStepLimit = errors.New("step limit exceeded")

// StepMeter tracks instruction-step consumption against a fixed limit.
// The machine itself never bounds execution; the meter exists for
// callers that want a watchdog around untrusted programs.
type StepMeter struct {
	remaining uint64
	limit     uint64
}

// NewStepMeter creates a meter with the given step budget.
func NewStepMeter(limit uint64) *StepMeter {
	return &StepMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume attempts to consume n steps.
func (sm *StepMeter) Consume(n uint64) error {
	if sm.remaining < n {
		sm.remaining = 0
		return ErrStepLimit
	}
	sm.remaining -= n
	return nil
}

// Remaining returns the unused step budget.
func (sm *StepMeter) Remaining() uint64 {
	return sm.remaining
}

// Limit returns the configured step budget.
func (sm *StepMeter) Limit() uint64 {
	return sm.limit
}
