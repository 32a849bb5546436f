package ps

import "fmt"

// SignalParameters is the information block delivered alongside a
// signal, mirrored into user memory on dispatch.
type SignalParameters struct {
	SignalNumber   uint32
	SignalCode     uint32
	ErrorNumber    uint32
	SendingUserID  uint32
	SendingProcess int64
	Value          int64
	FaultAddress   uint64
}

// queuedSignal is one pending signal entry.
type queuedSignal struct {
	signal Signal
	params SignalParameters
}

// HandlerEntry is the process-wide signal-handler entry point. The
// dispatcher invokes it on the receiving thread with the parameters and
// the user-stack address of the saved context.
type HandlerEntry func(t *Thread, params SignalParameters, contextAddress uint64)

// SignalHandler describes one handled signal: the extra signals blocked
// while its handler runs.
type SignalHandler struct {
	Mask SignalSet
}

// SetHandlerEntry installs the process-wide handler entry point.
func (p *Process) SetHandlerEntry(entry HandlerEntry) {
	p.lock.Acquire()
	p.handlerEntry = entry
	p.lock.Release()
}

// SetSignalHandler installs or removes a per-signal handler. Kill and
// stop cannot be handled.
func (p *Process) SetSignalHandler(signal Signal, handler *SignalHandler) error {
	if signal <= SignalInvalid || signal >= SignalCount {
		return fmt.Errorf("%w: signal %d", ErrInvalidArgument, signal)
	}
	if unblockableSignals.Contains(signal) {
		return fmt.Errorf("%w: %s cannot be handled", ErrInvalidArgument, signal)
	}
	p.lock.Acquire()
	defer p.lock.Release()
	p.handlers[signal] = handler
	if handler != nil {
		p.handledSignals = p.handledSignals.Add(signal)
	} else {
		p.handledSignals = p.handledSignals.Remove(signal)
	}
	return nil
}

// SetSignalIgnored adds or removes a signal from the ignored set. Kill
// and stop cannot be ignored.
func (p *Process) SetSignalIgnored(signal Signal, ignored bool) error {
	if signal <= SignalInvalid || signal >= SignalCount {
		return fmt.Errorf("%w: signal %d", ErrInvalidArgument, signal)
	}
	if unblockableSignals.Contains(signal) {
		return fmt.Errorf("%w: %s cannot be ignored", ErrInvalidArgument, signal)
	}
	p.lock.Acquire()
	defer p.lock.Release()
	if ignored {
		p.ignoredSignals = p.ignoredSignals.Add(signal)
	} else {
		p.ignoredSignals = p.ignoredSignals.Remove(signal)
	}
	return nil
}

// HandledSignals returns the set with installed handlers.
func (p *Process) HandledSignals() SignalSet {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.handledSignals
}

// PendingSignals returns the union of the process-wide pending queue.
func (p *Process) PendingSignals() SignalSet {
	p.lock.Acquire()
	defer p.lock.Release()
	var set SignalSet
	for _, q := range p.pendingSignals {
		set = set.Add(q.signal)
	}
	return set
}

// Signal delivers a signal to the process.
func (p *Process) Signal(signal Signal, params SignalParameters) error {
	if signal <= SignalInvalid || signal >= SignalCount {
		return fmt.Errorf("%w: signal %d", ErrInvalidArgument, signal)
	}
	p.queueSignal(signal, params)
	return nil
}

// SignalProcess looks up a process by id and signals it.
func (s *System) SignalProcess(id ProcessID, signal Signal, params SignalParameters) error {
	p, err := s.LookupProcess(id)
	if err != nil {
		return err
	}
	defer p.ReleaseReference()
	return p.Signal(signal, params)
}

// queueSignal is the process-wide generation point. Kill, stop, and
// continue act immediately; everything else queues for dispatch at the
// next syscall boundary, unless the ignore rules discard it.
func (p *Process) queueSignal(signal Signal, params SignalParameters) {
	switch {
	case signal == SignalKill:
		p.killAllThreads(ExitReasonKilled, int(signal))
		return
	case signal == SignalContinue:
		p.continueInternal()
		return
	case defaultStopSignals.Contains(signal) && !p.signalHandled(signal):
		p.stopInternal(signal)
		return
	}

	p.lock.Acquire()
	if p.state == ProcessStateTerminated {
		p.lock.Release()
		return
	}
	if p.discardLocked(signal) {
		p.lock.Release()
		return
	}
	p.pendingSignals = append(p.pendingSignals, queuedSignal{signal: signal, params: params})
	p.wakeDeliveryThreadLocked(signal)
	p.lock.Release()
}

// signalHandled reports whether a handler is installed.
func (p *Process) signalHandled(signal Signal) bool {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.handledSignals.Contains(signal)
}

// discardLocked applies the ignore rules: explicitly ignored signals
// and default-ignored signals without handlers never queue.
func (p *Process) discardLocked(signal Signal) bool {
	if p.handledSignals.Contains(signal) {
		return false
	}
	if p.ignoredSignals.Contains(signal) {
		return true
	}
	return defaultIgnoredSignals.Contains(signal)
}

// wakeDeliveryThreadLocked interrupts one thread that can deliver the
// signal. Caller holds the process lock.
func (p *Process) wakeDeliveryThreadLocked(signal Signal) {
	for _, t := range p.threads {
		if !t.blockedSignals.Contains(signal) {
			t.interrupt.Signal()
			return
		}
	}
	if len(p.threads) > 0 {
		p.threads[0].interrupt.Signal()
	}
}

// killAllThreads latches a kill status and unwinds every thread. A
// process with no threads terminates on the spot.
func (p *Process) killAllThreads(reason ExitReason, status int) {
	p.lock.Acquire()
	if p.state == ProcessStateTerminated {
		p.lock.Release()
		return
	}
	p.setExitStatusLocked(reason, status)
	p.stopped = false
	threads := append([]*Thread(nil), p.threads...)
	empty := p.threadCount == 0
	p.lock.Release()

	p.stopEvent.Unsignal()
	p.runGate.Signal()
	for _, t := range threads {
		t.markKilled()
	}
	if empty {
		p.terminate()
	}
}

// stopInternal puts the process into the job-control stopped state and
// reports the change to the parent.
func (p *Process) stopInternal(signal Signal) {
	p.lock.Acquire()
	if p.state != ProcessStateRunning || p.stopped {
		p.lock.Release()
		return
	}
	p.stopped = true
	p.dropPendingLocked(SignalContinue)
	parent := p.parent
	p.lock.Release()

	p.runGate.Unsignal()
	p.stopEvent.Signal()
	for _, t := range p.threadsSnapshot() {
		t.interrupt.Signal()
	}
	if parent != nil {
		parent.queueChildEvent(ChildEvent{ProcessID: p.ID, Reason: ExitReasonStopped, Status: int(signal)})
	}
}

// continueInternal resumes a stopped process. A continue handler, if
// installed, still sees the signal queued.
func (p *Process) continueInternal() {
	p.lock.Acquire()
	if p.state == ProcessStateTerminated {
		p.lock.Release()
		return
	}
	wasStopped := p.stopped
	p.stopped = false
	p.dropPendingLocked(SignalStop)
	p.dropPendingLocked(SignalRequestStop)
	if p.handledSignals.Contains(SignalContinue) {
		p.pendingSignals = append(p.pendingSignals, queuedSignal{
			signal: SignalContinue,
			params: SignalParameters{SignalNumber: uint32(SignalContinue)},
		})
		p.wakeDeliveryThreadLocked(SignalContinue)
	}
	parent := p.parent
	p.lock.Release()

	if wasStopped {
		p.stopEvent.Unsignal()
		p.runGate.Signal()
		if parent != nil {
			parent.queueChildEvent(ChildEvent{ProcessID: p.ID, Reason: ExitReasonContinued, Status: 0})
		}
	}
}

// dropPendingLocked removes every queued instance of a signal. Caller
// holds the process lock.
func (p *Process) dropPendingLocked(signal Signal) {
	kept := p.pendingSignals[:0]
	for _, q := range p.pendingSignals {
		if q.signal != signal {
			kept = append(kept, q)
		}
	}
	p.pendingSignals = kept
}

func (p *Process) threadsSnapshot() []*Thread {
	p.lock.Acquire()
	defer p.lock.Release()
	return append([]*Thread(nil), p.threads...)
}

// Signal queues a signal directly to this thread. Kill still takes the
// whole process down.
func (t *Thread) Signal(signal Signal, params SignalParameters) error {
	if signal <= SignalInvalid || signal >= SignalCount {
		return fmt.Errorf("%w: signal %d", ErrInvalidArgument, signal)
	}
	p := t.process
	switch {
	case signal == SignalKill:
		p.killAllThreads(ExitReasonKilled, int(signal))
		return nil
	case signal == SignalContinue:
		p.continueInternal()
		return nil
	case defaultStopSignals.Contains(signal) && !p.signalHandled(signal):
		p.stopInternal(signal)
		return nil
	}
	p.lock.Acquire()
	if p.state == ProcessStateTerminated || p.discardLocked(signal) {
		p.lock.Release()
		return nil
	}
	t.pendingSignals = append(t.pendingSignals, queuedSignal{signal: signal, params: params})
	p.lock.Release()
	t.interrupt.Signal()
	return nil
}

// dequeuePendingSignal pops the first deliverable signal, scanning the
// thread queue before the process queue and skipping blocked entries.
// When both queues drain the thread's interruption latch clears, unless
// a kill holds it down.
func (t *Thread) dequeuePendingSignal(blockedOverride SignalSet) (queuedSignal, bool) {
	p := t.process
	blocked := (t.blockedSignals | blockedOverride) &^ unblockableSignals
	p.lock.Acquire()
	defer p.lock.Release()
	if q, ok := takeDeliverable(&t.pendingSignals, blocked); ok {
		return q, true
	}
	if q, ok := takeDeliverable(&p.pendingSignals, blocked); ok {
		return q, true
	}
	if !t.killed.Load() {
		t.interrupt.Unsignal()
	}
	return queuedSignal{}, false
}

func takeDeliverable(queue *[]queuedSignal, blocked SignalSet) (queuedSignal, bool) {
	for i, q := range *queue {
		if blocked.Contains(q.signal) {
			continue
		}
		*queue = append((*queue)[:i], (*queue)[i+1:]...)
		return q, true
	}
	return queuedSignal{}, false
}

// hasDeliverableSignal reports whether a dispatch pass would find work.
func (t *Thread) hasDeliverableSignal() bool {
	p := t.process
	blocked := t.blockedSignals &^ unblockableSignals
	p.lock.Acquire()
	defer p.lock.Release()
	for _, q := range t.pendingSignals {
		if !blocked.Contains(q.signal) {
			return true
		}
	}
	for _, q := range p.pendingSignals {
		if !blocked.Contains(q.signal) {
			return true
		}
	}
	return false
}
