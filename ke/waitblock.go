package ke

import "time"

// WaitStatus is the outcome of a blocking wait.
type WaitStatus int

const (
	WaitSignaled WaitStatus = iota
	WaitTimeout
	WaitInterrupted
)

// String returns the printable outcome name.
func (s WaitStatus) String() string {
	switch s {
	case WaitSignaled:
		return "signaled"
	case WaitTimeout:
		return "timeout"
	case WaitInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// WaitBlock waits on an event with an optional timeout and an optional
// interruption channel. Threads own one built-in wait block paired with
// their built-in timer; kill signals close the interruption channel so
// any wait in progress returns immediately.
type WaitBlock struct {
	timer *Timer
}

// NewWaitBlock creates a wait block backed by its own timer.
func NewWaitBlock() *WaitBlock {
	return &WaitBlock{timer: NewTimer()}
}

// Wait blocks until the event signals, the timeout elapses, or the
// interrupt channel closes. A negative timeout waits forever; a zero
// timeout polls. Interruption wins a simultaneous race so a kill is
// never swallowed.
func (w *WaitBlock) Wait(event *Event, timeout time.Duration, interrupt <-chan struct{}) WaitStatus {
	if interrupt != nil {
		select {
		case <-interrupt:
			return WaitInterrupted
		default:
		}
	}
	var timerChannel <-chan struct{}
	if timeout == 0 {
		select {
		case <-event.WaitChannel():
			return WaitSignaled
		default:
			return WaitTimeout
		}
	}
	if timeout > 0 {
		w.timer.Arm(timeout)
		defer w.timer.Cancel()
		timerChannel = w.timer.Event().WaitChannel()
	}
	select {
	case <-event.WaitChannel():
		return WaitSignaled
	case <-timerChannel:
		return WaitTimeout
	case <-interrupt:
		return WaitInterrupted
	}
}
