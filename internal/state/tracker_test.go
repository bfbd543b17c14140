package state

import "testing"

func TestTrackerTransitions(t *testing.T) {
	tr := NewTracker(StatusFresh)

	steps := []Status{StatusStale, StatusRebuilding, StatusFailed, StatusRebuilding, StatusFresh}
	for _, next := range steps {
		if err := tr.Transition(next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}
	if !tr.Fresh() {
		t.Fatalf("expected fresh, got %s", tr.Status())
	}
}

func TestTrackerRejectsIllegalTransition(t *testing.T) {
	tr := NewTracker(StatusFresh)
	if err := tr.Transition(StatusRebuilding); err == nil {
		t.Fatalf("fresh -> rebuilding should be rejected")
	}
	if tr.Status() != StatusFresh {
		t.Fatalf("status changed after rejected transition: %s", tr.Status())
	}
	if err := tr.Transition(StatusFresh); err != nil {
		t.Fatalf("self transition should be a no-op: %v", err)
	}
}

func TestFailedIsNotFresh(t *testing.T) {
	tr := NewTracker(StatusFailed)
	if tr.Fresh() {
		t.Fatalf("failed must not count as fresh")
	}
}

func TestEvaluate(t *testing.T) {
	m := NewManifest()
	empty := Diff{}
	if got := Evaluate(m, empty); got != StatusStale {
		t.Fatalf("no generation yet should be stale, got %s", got)
	}

	m.Generation = "g1"
	if got := Evaluate(m, empty); got != StatusFresh {
		t.Fatalf("expected fresh, got %s", got)
	}
	if got := Evaluate(m, Diff{Changed: []string{"a.py"}}); got != StatusStale {
		t.Fatalf("expected stale, got %s", got)
	}

	m.LastFailure = "dangling_edge"
	if got := Evaluate(m, Diff{Changed: []string{"a.py"}}); got != StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestObserveIgnoredWhileRebuilding(t *testing.T) {
	tr := NewTracker(StatusStale)
	if err := tr.Transition(StatusRebuilding); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr.Observe(StatusFresh)
	if tr.Status() != StatusRebuilding {
		t.Fatalf("observe must not interrupt a rebuild, got %s", tr.Status())
	}
}
