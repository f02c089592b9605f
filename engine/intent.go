package engine

import "sync"

// DefaultCancelThreshold is the number of consecutive cancel gestures that
// escalates to a real abort.
const DefaultCancelThreshold = 3

// Step applies one input event to an escalation counter. Any non-cancel
// event resets the counter without aborting; the gesture that reaches the
// threshold resets it and reports that an abort is due. Pure function, no
// state.
func Step(count int, isCancel bool, threshold int) (newCount int, shouldAbort bool) {
	if !isCancel {
		return 0, false
	}
	count++
	if count >= threshold {
		return 0, true
	}
	return count, false
}

// IntentTracker keeps per-document cancel-gesture counters. A document's
// counter doubles as its abort-mode indicator: non-zero means the user has
// started pressing cancel and a status line shows how many gestures remain.
type IntentTracker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
}

// NewIntentTracker creates a tracker. A non-positive threshold falls back to
// DefaultCancelThreshold.
func NewIntentTracker(threshold int) *IntentTracker {
	if threshold <= 0 {
		threshold = DefaultCancelThreshold
	}
	return &IntentTracker{
		threshold: threshold,
		counts:    make(map[string]int),
	}
}

// Threshold returns the configured escalation threshold.
func (t *IntentTracker) Threshold() int {
	return t.threshold
}

// Record applies one gesture for a document. It returns the updated count,
// how many more consecutive cancel gestures would escalate, and whether this
// gesture crossed the threshold.
func (t *IntentTracker) Record(documentID string, isCancel bool) (count, remaining int, escalate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count, escalate = Step(t.counts[documentID], isCancel, t.threshold)
	t.counts[documentID] = count
	return count, t.threshold - count, escalate
}

// Reset clears a document's counter, e.g. when unrelated activity arrives or
// its last stream finishes.
func (t *IntentTracker) Reset(documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, documentID)
}
