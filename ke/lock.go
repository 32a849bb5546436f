package ke

import (
	"runtime"
	"sync/atomic"
)

// QueuedLock is a blocking mutual-exclusion lock. Waiters queue on a
// channel, so contended acquisition parks the goroutine instead of
// spinning.
type QueuedLock struct {
	slot chan struct{}
}

// NewQueuedLock creates an unlocked queued lock.
func NewQueuedLock() *QueuedLock {
	l := &QueuedLock{slot: make(chan struct{}, 1)}
	l.slot <- struct{}{}
	return l
}

// Acquire blocks until the lock is held.
func (l *QueuedLock) Acquire() {
	<-l.slot
}

// TryAcquire takes the lock if it is free.
func (l *QueuedLock) TryAcquire() bool {
	select {
	case <-l.slot:
		return true
	default:
		return false
	}
}

// Release drops the lock. Releasing an unheld lock panics.
func (l *QueuedLock) Release() {
	select {
	case l.slot <- struct{}{}:
	default:
		panic("ke: release of unheld queued lock")
	}
}

// SpinLock is a busy-wait lock for short critical sections that never
// sleep while held.
type SpinLock struct {
	held atomic.Bool
}

// Acquire spins until the lock is held.
func (l *SpinLock) Acquire() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Release drops the lock.
func (l *SpinLock) Release() {
	if !l.held.CompareAndSwap(true, false) {
		panic("ke: release of unheld spin lock")
	}
}
