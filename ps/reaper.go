package ps

import "github.com/minoca/chalkos/ke"

// reaperBatchSize bounds how many dead threads one collector pass
// handles, keeping destroy latency bounded.
const reaperBatchSize = 16

// reaperBackPressureLimit is the queue depth past which creation paths
// reap a small batch inline.
const reaperBackPressureLimit = 64

// reaper is the dead-thread collector: thread bodies queue here after
// their goroutine unwinds, and a dedicated goroutine folds their usage
// into the owning process and drops the process reference.
type reaper struct {
	sys    *System
	lock   ke.SpinLock
	queue  []*Thread
	work   *ke.Event
	stopCh chan struct{}
	done   chan struct{}
}

func newReaper(s *System) *reaper {
	return &reaper{
		sys:    s,
		work:   ke.NewEvent(false),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *reaper) start() {
	go r.run()
}

func (r *reaper) stop() {
	close(r.stopCh)
	<-r.done
}

func (r *reaper) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stopCh:
			r.drain()
			return
		case <-r.work.WaitChannel():
		}
		if r.reapBatch(reaperBatchSize) == 0 {
			r.work.Unsignal()
		}
	}
}

// queueDeadThread hands a finished thread to the collector.
func (r *reaper) queueDeadThread(t *Thread) {
	r.lock.Acquire()
	r.queue = append(r.queue, t)
	r.lock.Release()
	r.work.Signal()
}

// applyBackPressure reaps a small batch inline when the queue is deep.
// Thread-creation paths call it so fork storms cannot outrun the
// collector.
func (r *reaper) applyBackPressure() {
	r.lock.Acquire()
	depth := len(r.queue)
	r.lock.Release()
	if depth > reaperBackPressureLimit {
		r.reapBatch(4)
	}
}

// reapBatch collects up to limit dead threads and returns how many.
func (r *reaper) reapBatch(limit int) int {
	r.lock.Acquire()
	n := limit
	if n > len(r.queue) {
		n = len(r.queue)
	}
	batch := make([]*Thread, n)
	copy(batch, r.queue[:n])
	r.queue = r.queue[n:]
	r.lock.Release()
	for _, t := range batch {
		r.reapThread(t)
	}
	return n
}

// drain empties the queue synchronously. Tests use it to observe
// usage folds deterministically.
func (r *reaper) drain() {
	for r.reapBatch(reaperBatchSize) > 0 {
	}
}

// reapThread releases a dead thread's remaining resources. The usage
// fold is guarded so it happens exactly once no matter who gets here.
func (r *reaper) reapThread(t *Thread) {
	p := t.process
	if t.usageFolded.CompareAndSwap(false, true) {
		p.lock.Acquire()
		p.usage.Accumulate(&t.usage)
		p.lock.Release()
	}
	t.pendingSignals = nil
	p.ReleaseReference()
}
