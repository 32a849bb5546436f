package ps

import (
	"sync"
	"time"
)

// addressWaitTable parks threads on user addresses, the primitive
// behind thread-id-pointer wakeups: a terminating thread zeroes its id
// pointer in user memory and wakes one waiter parked on that address.
type addressWaitTable struct {
	mu      sync.Mutex
	waiters map[uint64][]chan struct{}
}

func newAddressWaitTable() *addressWaitTable {
	return &addressWaitTable{waiters: make(map[uint64][]chan struct{})}
}

// wait parks until a wake on addr, a timeout, or interruption. The
// caller re-checks the address value afterwards; spurious wakeups are
// allowed.
func (t *addressWaitTable) wait(addr uint64, timeout time.Duration, interrupt <-chan struct{}) error {
	ready := make(chan struct{}, 1)
	t.mu.Lock()
	t.waiters[addr] = append(t.waiters[addr], ready)
	t.mu.Unlock()
	var expiry <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expiry = timer.C
	}
	select {
	case <-ready:
		return nil
	case <-expiry:
		t.drop(addr, ready)
		return ErrTimeout
	case <-interrupt:
		t.drop(addr, ready)
		return ErrInterrupted
	}
}

// wakeOne releases the oldest waiter on addr, if any.
func (t *addressWaitTable) wakeOne(addr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	queue := t.waiters[addr]
	if len(queue) == 0 {
		return
	}
	ready := queue[0]
	if len(queue) == 1 {
		delete(t.waiters, addr)
	} else {
		t.waiters[addr] = queue[1:]
	}
	ready <- struct{}{}
}

func (t *addressWaitTable) drop(addr uint64, ready chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	queue := t.waiters[addr]
	for i, candidate := range queue {
		if candidate == ready {
			t.waiters[addr] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(t.waiters[addr]) == 0 {
		delete(t.waiters, addr)
	}
}
