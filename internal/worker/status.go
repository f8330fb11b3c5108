package worker

import (
	"sync"
	"time"
)

// Status tracks one worker's cycle bookkeeping for the ops surface.
type Status struct {
	mu           sync.Mutex
	name         string
	cyclesRun    int64
	skipped      int64
	lastCycleAt  time.Time
	lastDuration time.Duration
	lastError    string
}

// NewStatus creates a named status tracker.
func NewStatus(name string) *Status {
	return &Status{name: name}
}

func (s *Status) record(start time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cyclesRun++
	s.lastCycleAt = start
	s.lastDuration = time.Since(start)
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
}

func (s *Status) skip() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

// StatusSnapshot is the JSON-friendly view of a Status.
type StatusSnapshot struct {
	Name         string    `json:"name"`
	CyclesRun    int64     `json:"cycles_run"`
	Skipped      int64     `json:"skipped"`
	LastCycleAt  time.Time `json:"last_cycle_at"`
	LastDuration string    `json:"last_duration"`
	LastError    string    `json:"last_error,omitempty"`
}

// Snapshot returns a copy safe to serialize.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{
		Name:         s.name,
		CyclesRun:    s.cyclesRun,
		Skipped:      s.skipped,
		LastCycleAt:  s.lastCycleAt,
		LastDuration: s.lastDuration.String(),
		LastError:    s.lastError,
	}
}
