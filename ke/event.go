// Package ke holds the executive primitives the process subsystem
// blocks on: events, queued locks, spin locks, timers, and wait blocks.
package ke

import "sync"

// Event is a manual-reset notification. Signal wakes every current and
// future waiter until Unsignal arms it again.
type Event struct {
	mu       sync.Mutex
	signaled bool
	gate     chan struct{}
}

// NewEvent creates an event in the given initial state.
func NewEvent(signaled bool) *Event {
	e := &Event{signaled: signaled, gate: make(chan struct{})}
	if signaled {
		close(e.gate)
	}
	return e
}

// Signal moves the event to the signaled state, releasing all waiters.
func (e *Event) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.signaled {
		e.signaled = true
		close(e.gate)
	}
}

// Unsignal rearms the event.
func (e *Event) Unsignal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		e.signaled = false
		e.gate = make(chan struct{})
	}
}

// Signaled reports the current state.
func (e *Event) Signaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// Pulse releases all current waiters and leaves the event unsignaled.
func (e *Event) Pulse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		e.signaled = false
		e.gate = make(chan struct{})
		return
	}
	close(e.gate)
	e.gate = make(chan struct{})
}

// WaitChannel returns a channel that is closed while the event is
// signaled. Callers must re-fetch it after every wakeup; a Pulse or
// Unsignal replaces it.
func (e *Event) WaitChannel() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate
}

// Wait blocks until the event signals.
func (e *Event) Wait() {
	<-e.WaitChannel()
}
