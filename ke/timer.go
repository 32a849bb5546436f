package ke

import (
	"sync"
	"time"
)

// Timer is a one-shot timer that signals an event on expiry. Threads
// carry one built-in timer for timed waits; arming it again cancels the
// previous interval.
type Timer struct {
	mu    sync.Mutex
	event *Event
	inner *time.Timer
}

// NewTimer creates a disarmed timer.
func NewTimer() *Timer {
	return &Timer{event: NewEvent(false)}
}

// Event returns the event the timer signals.
func (t *Timer) Event() *Event {
	return t.event
}

// Arm starts the timer. A non-positive duration signals immediately.
func (t *Timer) Arm(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inner != nil {
		t.inner.Stop()
		t.inner = nil
	}
	t.event.Unsignal()
	if duration <= 0 {
		t.event.Signal()
		return
	}
	t.inner = time.AfterFunc(duration, t.event.Signal)
}

// Cancel stops the timer and clears the event.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inner != nil {
		t.inner.Stop()
		t.inner = nil
	}
	t.event.Unsignal()
}
