// Package traffic keeps sliding windows of analysis request outcomes. /health reads it
// to decide between healthy, degraded and overloaded.
package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// retention bounds how far back outcomes are kept; windows longer than this undercount.
const retention = 5 * time.Minute

// Outcome classifies one request.
type Outcome int

const (
	Success Outcome = iota
	Failure
	Denied
)

var defaultTracker = NewTracker(clockwork.NewRealClock())

// Default returns the process-wide tracker used by the HTTP layer.
func Default() *Tracker {
	return defaultTracker
}

// Record adds an outcome to the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// Tracker maintains a time-ordered log of outcomes.
type Tracker struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	events []event
}

type event struct {
	at      time.Time
	outcome Outcome
}

// NewTracker creates a Tracker that timestamps outcomes with clock.
func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{clock: clock}
}

// Record appends an outcome at the current time and prunes expired entries.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// RequestCount returns all outcomes (success, failure and denied) within window.
func (t *Tracker) RequestCount(window time.Duration) int {
	s, f, d := t.counts(window)
	return s + f + d
}

// DenialCount returns rate-limit denials within window.
func (t *Tracker) DenialCount(window time.Duration) int {
	_, _, d := t.counts(window)
	return d
}

// ErrorRate returns (failures, successes+failures) within window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (failures, total int) {
	s, f, _ := t.counts(window)
	return f, s + f
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) counts(window time.Duration) (success, failure, denied int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	// events are time-ordered; walk back from the newest until the cutoff.
	for i := len(t.events) - 1; i >= 0; i-- {
		e := t.events[i]
		if e.at.Before(cutoff) {
			break
		}
		switch e.outcome {
		case Success:
			success++
		case Failure:
			failure++
		case Denied:
			denied++
		}
	}
	return success, failure, denied
}

// pruneLocked drops entries older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
