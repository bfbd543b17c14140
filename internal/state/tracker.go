package state

import (
	"fmt"
	"sync"
)

// Status is the freshness of the artifact set relative to its sources.
type Status string

const (
	StatusFresh      Status = "fresh"
	StatusStale      Status = "stale"
	StatusRebuilding Status = "rebuilding"
	StatusFailed     Status = "failed"
)

var transitions = map[Status]map[Status]bool{
	StatusFresh:      {StatusStale: true},
	StatusStale:      {StatusRebuilding: true},
	StatusRebuilding: {StatusFresh: true, StatusFailed: true},
	StatusFailed:     {StatusStale: true, StatusRebuilding: true},
}

// Evaluate derives the status of a committed manifest given the diff against
// the current sources.
func Evaluate(m *Manifest, d Diff) Status {
	switch {
	case m.Generation != "" && d.Empty() && m.LastFailure == "":
		return StatusFresh
	case m.LastFailure != "":
		return StatusFailed
	default:
		return StatusStale
	}
}

// Tracker guards the status of one artifact set within a process.
type Tracker struct {
	mu     sync.Mutex
	status Status
}

func NewTracker(initial Status) *Tracker {
	if initial == "" {
		initial = StatusStale
	}
	return &Tracker{status: initial}
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Fresh reports whether queries may be answered without a rebuild. Failed
// counts as stale.
func (t *Tracker) Fresh() bool {
	return t.Status() == StatusFresh
}

// Transition moves to next. Moving to the current status is a no-op; any
// move outside the allowed graph is an error and leaves the status as is.
func (t *Tracker) Transition(next Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == next {
		return nil
	}
	if !transitions[t.status][next] {
		return fmt.Errorf("illegal freshness transition %s -> %s", t.status, next)
	}
	t.status = next
	return nil
}

// Observe records a status read back from disk. Another process may have
// rebuilt in the meantime, so the transition graph does not apply; it is
// ignored while this process is rebuilding.
func (t *Tracker) Observe(observed Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRebuilding {
		return
	}
	t.status = observed
}
