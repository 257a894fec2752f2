package session

import (
	"sync"
	"time"

	"dikt/internal/domain"
)

// FocusTracker remembers the engine instance that last reported focus.
type FocusTracker struct {
	mu         sync.Mutex
	targetID   uint64
	lastChange time.Time
	now        func() time.Time
}

func NewFocusTracker(now func() time.Time) *FocusTracker {
	if now == nil {
		now = time.Now
	}
	return &FocusTracker{now: now}
}

// Set records a focus report. Unfocus only clears the current target, so a
// late focus-out from a previous engine cannot erase a newer focus-in.
func (f *FocusTracker) Set(targetID uint64, focused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.targetID
	switch {
	case focused:
		next = targetID
	case f.targetID == targetID:
		next = 0
	}
	if next != f.targetID {
		f.targetID = next
		f.lastChange = f.now()
	}
}

func (f *FocusTracker) Get() domain.FocusState {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := domain.FocusState{TargetID: f.targetID}
	if !f.lastChange.IsZero() {
		state.LastChangeMs = unixMillis(f.lastChange)
	}
	return state
}
