package ps

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/minoca/chalkos/ke"
)

// ThreadRoutine is a thread entry point, running on the thread's own
// goroutine.
type ThreadRoutine func(*Thread)

// TrapFrame is the saved user-mode machine state: program counter,
// stack pointer, the first two argument registers, a flags word, and
// the return-value register.
type TrapFrame struct {
	PC          uint64
	SP          uint64
	Arg0        uint64
	Arg1        uint64
	Flags       uint64
	ReturnValue uint64
}

// TrapFlagSingleStep is the trap flag in the flags word.
const TrapFlagSingleStep uint64 = 1 << 8

// trapFlagsUserMask keeps only the bits user mode may set when a frame
// is restored from user memory.
const trapFlagsUserMask uint64 = 0x0dd5 | TrapFlagSingleStep

// threadEntryPC is the synthetic program counter a first-run frame
// starts at. The value only matters relative to the syscall rewind
// arithmetic.
const threadEntryPC uint64 = 0x1000

// ThreadState tracks a thread through its lifetime.
type ThreadState int

const (
	ThreadStateCreated ThreadState = iota
	ThreadStateRunning
	ThreadStateExited
)

// threadExitPanic unwinds a thread goroutine out of arbitrarily nested
// calls; the trampoline recovers it.
type threadExitPanic struct{}

// Thread is one thread of execution inside a process, backed by a
// goroutine. The trap frame and signal fields are only touched by the
// thread itself or, via the process lock, by signal senders.
type Thread struct {
	sys     *System
	process *Process
	ID      ThreadID

	TrapFrame TrapFrame

	entry     ThreadRoutine
	parameter uint64
	state     ThreadState
	exiting   bool

	// blockedSignals is owned by the thread; pendingSignals is
	// guarded by the process lock.
	blockedSignals SignalSet
	pendingSignals []queuedSignal

	limits      ResourceLimits
	usage       ResourceUsage
	usageFolded atomic.Bool

	waitBlock *ke.WaitBlock
	interrupt *ke.Event
	killed    atomic.Bool

	userStackBase   uint64
	userStackSize   uint64
	threadIDPointer uint64
	threadPointer   uint64
	fpuInUse        bool
	fpuOwner        bool

	done chan struct{}
}

// CreateThread allocates a thread in the process, maps its user stack,
// arms the first-run trap frame, and starts it.
func (p *Process) CreateThread(entry ThreadRoutine, parameter uint64) (*Thread, error) {
	t, err := p.newThread(entry, parameter, defaultResourceLimits(), 0, true)
	if err != nil {
		return nil, err
	}
	t.TrapFrame = TrapFrame{PC: threadEntryPC, SP: t.userStackBase + t.userStackSize, Arg0: parameter}
	t.start()
	return t, nil
}

// newThread builds the thread object and inserts it into the process's
// thread list, without starting it.
func (p *Process) newThread(entry ThreadRoutine, parameter uint64, limits ResourceLimits, blocked SignalSet, mapStack bool) (*Thread, error) {
	s := p.sys
	s.reaper.applyBackPressure()

	p.lock.Acquire()
	if p.state != ProcessStateRunning && p.threadCount > 0 {
		p.lock.Release()
		return nil, fmt.Errorf("%w: process %d is exiting", ErrTooLate, p.ID)
	}
	p.lock.Release()

	t := &Thread{
		sys:            s,
		process:        p,
		ID:             s.allocateThreadID(),
		entry:          entry,
		parameter:      parameter,
		limits:         limits,
		blockedSignals: blocked,
		waitBlock:      ke.NewWaitBlock(),
		interrupt:      ke.NewEvent(false),
		done:           make(chan struct{}),
	}
	if mapStack {
		stackSize := limits[ResourceLimitStack].Current
		base, err := p.addressSpace.MapUserStack(stackSize, limits[ResourceLimitStack].Max)
		if err != nil {
			return nil, err
		}
		t.userStackBase = base
		t.userStackSize = stackSize
	}

	p.AddReference()
	p.lock.Acquire()
	p.threads = append(p.threads, t)
	p.threadCount++
	p.lock.Release()
	return t, nil
}

// cloneThread mirrors t into the destination process for fork: same
// blocked mask, limits, and user-stack descriptor (the destination
// address space already holds a copy of the stack), the snapshotted
// trap frame, and a zero return value so the child observes the fork
// call returning 0.
func (t *Thread) cloneThread(destination *Process, frame TrapFrame, continuation ThreadRoutine) (*Thread, error) {
	clone, err := destination.newThread(continuation, t.parameter, t.limits, t.blockedSignals, false)
	if err != nil {
		return nil, err
	}
	clone.userStackBase = t.userStackBase
	clone.userStackSize = t.userStackSize
	frame.ReturnValue = 0
	clone.TrapFrame = frame
	clone.threadIDPointer = 0
	return clone, nil
}

// start launches the thread goroutine. The trampoline absorbs the
// exit panic and always runs termination.
func (t *Thread) start() {
	t.process.lock.Acquire()
	t.state = ThreadStateRunning
	t.process.lock.Release()
	go func() {
		defer t.finish()
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(threadExitPanic); !ok {
					panic(r)
				}
			}
		}()
		t.entry(t)
	}()
}

// Process returns the owning process.
func (t *Thread) Process() *Process {
	return t.process
}

// System returns the owning subsystem.
func (t *Thread) System() *System {
	return t.sys
}

// Limits returns a pointer to the thread's resource-limit table.
func (t *Thread) Limits() *ResourceLimits {
	return &t.limits
}

// GetResourceLimit reads one row of the limits table.
func (t *Thread) GetResourceLimit(kind ResourceLimitKind) (ResourceLimit, error) {
	if kind < 0 || kind >= ResourceLimitCount {
		return ResourceLimit{}, fmt.Errorf("%w: resource limit %d", ErrInvalidArgument, kind)
	}
	return t.limits[kind], nil
}

// SetResourceLimit replaces one row. The current value may not exceed
// the max, and the max may only be lowered.
func (t *Thread) SetResourceLimit(kind ResourceLimitKind, limit ResourceLimit) error {
	if kind < 0 || kind >= ResourceLimitCount {
		return fmt.Errorf("%w: resource limit %d", ErrInvalidArgument, kind)
	}
	if limit.Current > limit.Max {
		return fmt.Errorf("%w: limit current %d above max %d", ErrInvalidArgument, limit.Current, limit.Max)
	}
	if limit.Max > t.limits[kind].Max {
		return fmt.Errorf("%w: limit max may only be lowered", ErrPermissionDenied)
	}
	t.limits[kind] = limit
	return nil
}

// Usage returns a pointer to the thread's usage counters.
func (t *Thread) Usage() *ResourceUsage {
	return &t.usage
}

// BlockedSignals returns the thread's blocked set.
func (t *Thread) BlockedSignals() SignalSet {
	return t.blockedSignals
}

// SetBlockedSignals replaces the blocked set. Kill and stop stay
// unblockable.
func (t *Thread) SetBlockedSignals(set SignalSet) {
	t.blockedSignals = set &^ unblockableSignals
}

// SetThreadPointer records the user thread-pointer register value.
func (t *Thread) SetThreadPointer(ptr uint64) {
	t.threadPointer = ptr
}

// SetThreadIDPointer records the user address that is zeroed and woken
// when the thread exits. The thread id is written there immediately.
func (t *Thread) SetThreadIDPointer(ptr uint64) error {
	t.threadIDPointer = ptr
	if ptr == 0 {
		return nil
	}
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], uint64(t.ID))
	return t.process.addressSpace.CopyOut(ptr, word[:])
}

// markKilled flags the thread for unconditional exit and wakes any wait
// in progress. The interruption stays latched.
func (t *Thread) markKilled() {
	if t.killed.CompareAndSwap(false, true) {
		t.interrupt.Signal()
	}
}

// Killed reports whether a kill is latched.
func (t *Thread) Killed() bool {
	return t.killed.Load()
}

// exitIfKilled unwinds the thread when a kill is latched. Syscall
// boundaries call this so a killed thread never re-enters user mode.
func (t *Thread) exitIfKilled() {
	if t.killed.Load() {
		panic(threadExitPanic{})
	}
}

// block waits on an event via the thread's built-in wait block, with
// the thread's interruption event wired in.
func (t *Thread) block(event *ke.Event, timeout time.Duration) ke.WaitStatus {
	return t.waitBlock.Wait(event, timeout, t.interrupt.WaitChannel())
}

// finish is the thread-termination path: free the user stack, drop the
// thread from the process, signal the stopped event if the process now
// has no runnable threads, zero and wake the thread-id pointer, and
// queue the body to the reaper.
func (t *Thread) finish() {
	p := t.process
	t.exiting = true

	if t.userStackSize != 0 {
		_ = p.addressSpace.Unmap(t.userStackBase)
		t.userStackBase, t.userStackSize = 0, 0
	}

	p.lock.Acquire()
	t.state = ThreadStateExited
	for i, candidate := range p.threads {
		if candidate == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			break
		}
	}
	p.threadCount--
	last := p.threadCount == 0
	t.redistributeSignalsLocked()
	p.lock.Release()

	if last {
		p.allStoppedEvent.Signal()
		p.terminate()
	}

	if ptr := t.threadIDPointer; ptr != 0 {
		var zero [8]byte
		if p.addressSpace.CopyOut(ptr, zero[:]) == nil {
			t.sys.addressWaits.wakeOne(ptr)
		}
		t.threadIDPointer = 0
	}

	t.fpuInUse, t.fpuOwner = false, false
	t.sys.reaper.queueDeadThread(t)
	close(t.done)
}

// redistributeSignalsLocked hands the thread's still-pending signals
// back to the process queue so a sibling can deliver them. Caller holds
// the process lock.
func (t *Thread) redistributeSignalsLocked() {
	if len(t.pendingSignals) == 0 {
		return
	}
	if t.process.threadCount > 0 {
		t.process.pendingSignals = append(t.process.pendingSignals, t.pendingSignals...)
		for _, sibling := range t.process.threads {
			sibling.interrupt.Signal()
			break
		}
	}
	t.pendingSignals = nil
}

// Join blocks until the thread goroutine has fully exited. Test and
// embedding hosts use it; the kernel surface never does.
func (t *Thread) Join() {
	<-t.done
}
