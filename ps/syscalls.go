package ps

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/minoca/chalkos/ke"
)

// SyscallNumber identifies a system call for the restart protocol.
type SyscallNumber uint32

const (
	SyscallFork SyscallNumber = iota + 1
	SyscallExecuteImage
	SyscallExitProcess
	SyscallExitThread
	SyscallCreateThread
	SyscallWait
	SyscallGetSetProcessID
	SyscallSetUmask
	SyscallDebug
	SyscallSetThreadPointer
	SyscallSetThreadIDPointer
	SyscallGetResourceUsage
	SyscallGetSetUts
	SyscallUserLock
)

// SyscallInstructionLength is how far sigreturn rewinds the program
// counter to re-execute an interrupted restartable call.
const SyscallInstructionLength = 2

// restartableSyscalls classifies which calls are safe to re-invoke
// after a signal handler returns.
var restartableSyscalls = map[SyscallNumber]bool{
	SyscallWait:     true,
	SyscallUserLock: true,
}

// syscall runs a system-call body at a signal-dispatch boundary. A body
// that blocks returns ErrRestartAfterSignal when interrupted; the
// dispatcher then runs pending handlers, and if sigreturn rewound the
// program counter into the syscall instruction the body re-executes
// with the reloaded argument registers. Otherwise the caller sees
// ErrInterrupted.
func (t *Thread) syscall(number SyscallNumber, parameter uint64, body func() error) error {
	t.exitIfKilled()
	t.waitIfStopped()
	restartable := restartableSyscalls[number]
	pcAfterCall := t.TrapFrame.PC
	for {
		err := body()
		t.exitIfKilled()
		if !errors.Is(err, ErrRestartAfterSignal) {
			t.dispatchSignals(uint32(number), parameter, false)
			t.exitIfKilled()
			t.waitIfStopped()
			return err
		}
		consumed := t.dispatchSignals(uint32(number), parameter, restartable)
		t.exitIfKilled()
		t.waitIfStopped()
		if restartable && t.TrapFrame.PC == pcAfterCall-SyscallInstructionLength {
			t.TrapFrame.PC = pcAfterCall
			continue
		}
		if !consumed {
			// Spurious interruption, e.g. a stop/continue cycle.
			continue
		}
		return ErrInterrupted
	}
}

// waitIfStopped parks the thread while its process is job-control
// stopped. Kills still unwind immediately.
func (t *Thread) waitIfStopped() {
	p := t.process
	for {
		p.lock.Acquire()
		stopped := p.stopped
		p.lock.Release()
		if !stopped {
			return
		}
		if !t.killed.Load() && !t.hasDeliverableSignal() {
			t.interrupt.Unsignal()
		}
		t.waitBlock.Wait(p.runGate, -1, t.interrupt.WaitChannel())
		t.exitIfKilled()
	}
}

// Fork copies the calling thread's process. The child starts with one
// thread running continuation against a snapshot of the caller's trap
// frame whose return value reads 0; the parent's return value register
// holds the child id, which is also returned.
func (t *Thread) Fork(continuation ThreadRoutine) (ProcessID, error) {
	var childID ProcessID
	err := t.syscall(SyscallFork, 0, func() error {
		p := t.process
		root, working, shm := p.capturePaths()
		defer func() {
			root.ReleaseReference()
			working.ReleaseReference()
			shm.ReleaseReference()
		}()

		p.lock.Acquire()
		args := CreateProcessArgs{
			CommandLine:         append([]string(nil), p.commandLine...),
			Environment:         append([]string(nil), p.environment...),
			Parent:              p,
			Identity:            p.identity,
			ControllingTerminal: p.terminal,
			RootPath:            root,
			WorkingPath:         working,
			SharedMemoryPath:    shm,
		}
		handlers := p.handlers
		handled := p.handledSignals
		ignored := p.ignoredSignals
		umask := p.umask
		entry := p.handlerEntry
		handles := p.handles
		var tracer *Process
		if p.debug != nil {
			tracer = p.debug.tracer
		}
		p.lock.Release()

		child, err := t.sys.CreateProcess(args)
		if err != nil {
			return err
		}
		child.lock.Acquire()
		child.handlers = handlers
		child.handledSignals = handled
		child.ignoredSignals = ignored
		child.umask = umask
		child.handlerEntry = entry
		if handles != nil {
			child.handles = handles.clone()
		}
		child.lock.Release()
		child.addressSpace = p.addressSpace.Clone()

		if tracer != nil {
			if err := tracer.TraceAttach(child); err != nil {
				t.sys.log.Warningf("fork: tracer attach to %d failed: %s", child.ID, err)
			}
		}

		clone, err := t.cloneThread(child, t.TrapFrame, continuation)
		if err != nil {
			child.killAllThreads(ExitReasonKilled, int(SignalKill))
			return err
		}
		childID = child.ID
		t.TrapFrame.ReturnValue = uint64(childID)
		clone.start()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return childID, nil
}

// Image describes an executable for Exec: the entry routine standing in
// for the loaded binary, plus its credential metadata.
type Image struct {
	Name        string
	Entry       ThreadRoutine
	Environment []string
	SetUserID   *uint32
	SetGroupID  *uint32
}

// Exec replaces the process image. Only legal with exactly one thread.
// On success the calling thread restarts at the image entry and this
// function never returns; errors before the point of no return leave
// the process unchanged.
func (t *Thread) Exec(image Image) error {
	p := t.process
	if image.Entry == nil {
		return fmt.Errorf("%w: image has no entry", ErrInvalidArgument)
	}

	p.lock.Acquire()
	if p.threadCount != 1 {
		p.lock.Release()
		return fmt.Errorf("%w: exec with %d threads", ErrInvalidArgument, p.threadCount)
	}
	handles := p.handles
	p.lock.Release()
	if handles != nil {
		handles.CloseExecHandles()
	}

	// Point of no return: tear down the old image.
	p.lock.Acquire()
	p.handlers = [SignalCount]*SignalHandler{}
	p.handledSignals = 0
	p.handlerEntry = nil
	if image.Environment != nil {
		p.environment = append([]string(nil), image.Environment...)
	} else {
		p.environment = []string{}
	}
	p.binaryName = path.Base(image.Name)
	p.commandLine = []string{image.Name}
	p.executedImage = true
	if image.SetUserID != nil {
		p.identity.EffectiveUserID = *image.SetUserID
		p.identity.SavedUserID = *image.SetUserID
	}
	if image.SetGroupID != nil {
		p.identity.EffectiveGroupID = *image.SetGroupID
		p.identity.SavedGroupID = *image.SetGroupID
	}
	traced := p.debug != nil && p.debug.tracer != nil
	p.lock.Release()

	p.addressSpace.Reset()
	stackSize := t.limits[ResourceLimitStack].Current
	base, err := p.addressSpace.MapUserStack(stackSize, t.limits[ResourceLimitStack].Max)
	if err != nil {
		p.killAllThreads(ExitReasonKilled, int(SignalBusError))
		t.exitIfKilled()
		return err
	}
	t.userStackBase = base
	t.userStackSize = stackSize
	t.fpuInUse, t.fpuOwner = false, false
	t.threadIDPointer = 0
	t.TrapFrame = TrapFrame{PC: threadEntryPC, SP: base + stackSize}

	if traced {
		_ = t.Signal(SignalTrap, SignalParameters{SignalNumber: uint32(SignalTrap)})
	}
	t.sys.log.Debugf("process %d exec %s", p.ID, p.binaryName)
	image.Entry(t)
	panic(threadExitPanic{})
}

// ExitProcess latches an exit status and unwinds every thread. The
// calling thread never returns.
func (t *Thread) ExitProcess(status int) {
	p := t.process
	p.SetExitStatus(ExitReasonExited, status)
	p.lock.Acquire()
	others := make([]*Thread, 0, len(p.threads))
	for _, sibling := range p.threads {
		if sibling != t {
			others = append(others, sibling)
		}
	}
	p.stopped = false
	p.lock.Release()
	p.runGate.Signal()
	for _, sibling := range others {
		sibling.markKilled()
	}
	panic(threadExitPanic{})
}

// ExitThread terminates only the calling thread. The last thread out
// takes the process with it.
func (t *Thread) ExitThread() {
	panic(threadExitPanic{})
}

// Wait reaps one child status change: (child id, reason, status). It
// blocks on the child event with the thread's built-in wait block; a
// terminated child is fully reaped before returning. With no children
// at all the call fails instead of blocking forever.
func (t *Thread) Wait(timeout time.Duration) (ChildEvent, error) {
	var result ChildEvent
	err := t.syscall(SyscallWait, 0, func() error {
		p := t.process
		for {
			p.lock.Acquire()
			event, ok := p.dequeueChildEventLocked()
			childless := len(p.children) == 0 && len(p.childEvents) == 0
			var child *Process
			if ok {
				child = p.children[event.ProcessID]
			}
			p.lock.Release()
			if ok {
				result = event
				if child != nil && (event.Reason == ExitReasonExited || event.Reason == ExitReasonKilled) {
					p.reapChild(child)
				}
				return nil
			}
			if childless {
				return fmt.Errorf("%w: no children to wait for", ErrNoSuchProcess)
			}
			switch t.block(p.childEvent, timeout) {
			case ke.WaitSignaled:
			case ke.WaitTimeout:
				return ErrTimeout
			case ke.WaitInterrupted:
				return ErrRestartAfterSignal
			}
		}
	})
	if err != nil {
		return ChildEvent{}, err
	}
	return result, nil
}

// ProcessIDKind selects which identifier GetProcessID reads.
type ProcessIDKind int

const (
	ProcessIDProcess ProcessIDKind = iota
	ProcessIDParent
	ProcessIDProcessGroup
	ProcessIDSession
	ProcessIDThread
)

// GetProcessID reads one of the calling thread's identifiers, or
// another process's when target is non-zero.
func (t *Thread) GetProcessID(kind ProcessIDKind, target ProcessID) (ProcessID, error) {
	p := t.process
	if target != 0 && target != p.ID {
		other, err := t.sys.LookupProcess(target)
		if err != nil {
			return 0, err
		}
		defer other.ReleaseReference()
		p = other
	}
	switch kind {
	case ProcessIDProcess:
		return p.ID, nil
	case ProcessIDParent:
		return p.ReportedParentID(), nil
	case ProcessIDProcessGroup:
		return p.GroupID(), nil
	case ProcessIDSession:
		return p.SessionID(), nil
	case ProcessIDThread:
		return ProcessID(t.ID), nil
	}
	return 0, fmt.Errorf("%w: id kind %d", ErrInvalidArgument, kind)
}

// SetProcessGroup moves a process into a group; the target must be the
// caller's own process or one of its children that has not executed a
// new image yet.
func (t *Thread) SetProcessGroup(target, group ProcessID) error {
	p := t.process
	if target == 0 || target == p.ID {
		if group == 0 {
			group = p.ID
		}
		return t.sys.JoinProcessGroup(p, group)
	}
	child, err := t.sys.LookupProcess(target)
	if err != nil {
		return err
	}
	defer child.ReleaseReference()
	child.lock.Acquire()
	isChild := child.parent == p
	executed := child.executedImage
	child.lock.Release()
	if !isChild {
		return fmt.Errorf("%w: process %d is not a child", ErrPermissionDenied, target)
	}
	if executed {
		return fmt.Errorf("%w: child %d already executed an image", ErrPermissionDenied, target)
	}
	if group == 0 {
		group = target
	}
	return t.sys.JoinProcessGroup(child, group)
}

// NewSession makes the calling process a session and group leader.
func (t *Thread) NewSession() (ProcessID, error) {
	return t.sys.CreateSession(t.process)
}

// SetUmask swaps the file-creation mask, returning the old one.
func (p *Process) SetUmask(mask uint32) uint32 {
	p.lock.Acquire()
	defer p.lock.Release()
	old := p.umask
	p.umask = mask & 0o777
	return old
}

// GetResourceUsage returns a process's folded usage counters. Kind
// selection narrower than process-level lives with the thread itself.
func (s *System) GetResourceUsage(id ProcessID) (own, children ResourceUsage, err error) {
	p, lookupErr := s.LookupProcess(id)
	if lookupErr != nil {
		return ResourceUsage{}, ResourceUsage{}, lookupErr
	}
	defer p.ReleaseReference()
	own, children = p.Usage()
	return own, children, nil
}

// WaitOnAddress blocks until another thread wakes the user address,
// unless the value there no longer matches expected. The user-mode
// lock primitive builds on this.
func (t *Thread) WaitOnAddress(address, expected uint64, timeout time.Duration) error {
	return t.syscall(SyscallUserLock, address, func() error {
		var word [8]byte
		if err := t.process.addressSpace.CopyIn(address, word[:]); err != nil {
			return err
		}
		if binary.LittleEndian.Uint64(word[:]) != expected {
			return nil
		}
		err := t.sys.addressWaits.wait(address, timeout, t.interrupt.WaitChannel())
		if errors.Is(err, ErrInterrupted) {
			return ErrRestartAfterSignal
		}
		return err
	})
}

// WakeAddress releases one waiter parked on the user address.
func (t *Thread) WakeAddress(address uint64) {
	t.sys.addressWaits.wakeOne(address)
}
