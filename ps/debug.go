package ps

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minoca/chalkos/ke"
)

// DebugCommandType selects a tracer command.
type DebugCommandType int

const (
	DebugReadMemory DebugCommandType = iota
	DebugWriteMemory
	DebugGetBreakInformation
	DebugSetBreakInformation
	DebugGetSignalInformation
	DebugSetSignalInformation
	DebugSingleStep
	DebugRangeStep
	DebugContinue
	DebugSwitchThread
)

// BreakInformation is the architectural snapshot a tracer inspects at a
// stop: the leader thread's saved frame and the instruction bytes
// around its program counter.
type BreakInformation struct {
	ThreadID         ThreadID
	Frame            TrapFrame
	InstructionBytes [16]byte
}

// StepRange is the program-counter window for range stepping; the
// tracee re-stops only once execution leaves it.
type StepRange struct {
	Start uint64
	End   uint64
}

// DebugCommand is one tracer request plus its in/out payload.
type DebugCommand struct {
	Type     DebugCommandType
	Address  uint64
	Size     int
	Data     []byte
	Signal   Signal
	ThreadID ThreadID
	Break    *BreakInformation
	Params   SignalParameters
	Range    StepRange
}

// DebugData hangs off a traced process: the tracer pointer, the
// per-session id, the command handshake state, and the signal snapshot
// the tracer edits.
type DebugData struct {
	SessionID uuid.UUID

	tracer          *Process
	leader          ThreadID
	commandLock     ke.SpinLock
	commandComplete *ke.Event
	command         *DebugCommand
	signalInfo      SignalParameters
	stepRange       *StepRange
}

// TraceAttach makes p the tracer of tracee. A process has at most one
// tracer; attaching to a dying process is too late.
func (p *Process) TraceAttach(tracee *Process) error {
	tracee.lock.Acquire()
	if tracee.state != ProcessStateRunning {
		tracee.lock.Release()
		return fmt.Errorf("%w: process %d is exiting", ErrTooLate, tracee.ID)
	}
	if tracee.debug != nil && tracee.debug.tracer != nil {
		tracee.lock.Release()
		return fmt.Errorf("%w: process %d already traced", ErrPermissionDenied, tracee.ID)
	}
	if tracee.debug == nil {
		tracee.debug = &DebugData{
			SessionID:       uuid.New(),
			commandComplete: ke.NewEvent(false),
		}
	}
	tracee.debug.tracer = p
	tracee.lock.Release()

	p.lock.Acquire()
	p.tracees[tracee.ID] = tracee
	p.lock.Release()
	p.sys.log.Debugf("process %d traces %d (session %s)", p.ID, tracee.ID, tracee.debug.SessionID)
	return nil
}

// Tracer returns the tracer process, nil when untraced.
func (p *Process) Tracer() *Process {
	p.lock.Acquire()
	defer p.lock.Release()
	if p.debug == nil {
		return nil
	}
	return p.debug.tracer
}

// WaitForStop blocks the tracer until the tracee enters the stopped
// state.
func (p *Process) WaitForStop(timeout time.Duration) error {
	block := ke.NewWaitBlock()
	switch block.Wait(p.stopEvent, timeout, nil) {
	case ke.WaitSignaled:
		return nil
	case ke.WaitTimeout:
		return ErrTimeout
	}
	return ErrInterrupted
}

// IssueCommand runs one debug command against a stopped tracee. The
// tracer spinlock serialises concurrent tracer threads; the completion
// event closes the handshake.
func (p *Process) IssueCommand(traceeID ProcessID, cmd *DebugCommand) error {
	p.lock.Acquire()
	tracee := p.tracees[traceeID]
	p.lock.Release()
	if tracee == nil {
		return fmt.Errorf("%w: process %d is not a tracee", ErrNoSuchProcess, traceeID)
	}
	tracee.lock.Acquire()
	d := tracee.debug
	tracee.lock.Release()
	if d == nil || d.tracer != p {
		return fmt.Errorf("%w: process %d is not traced by %d", ErrPermissionDenied, traceeID, p.ID)
	}

	d.commandLock.Acquire()
	defer d.commandLock.Release()
	d.commandComplete.Unsignal()
	d.command = cmd
	err := d.execute(tracee, cmd)
	d.command = nil
	d.commandComplete.Signal()
	return err
}

// leaderThread picks the debug leader: the switched-to thread if one
// was named, otherwise the tracee's first thread.
func (d *DebugData) leaderThread(tracee *Process) (*Thread, error) {
	tracee.lock.Acquire()
	defer tracee.lock.Release()
	if len(tracee.threads) == 0 {
		return nil, fmt.Errorf("%w: process %d has no threads", ErrNoSuchThread, tracee.ID)
	}
	if d.leader != 0 {
		for _, t := range tracee.threads {
			if t.ID == d.leader {
				return t, nil
			}
		}
	}
	return tracee.threads[0], nil
}

func (d *DebugData) execute(tracee *Process, cmd *DebugCommand) error {
	switch cmd.Type {
	case DebugReadMemory:
		if cmd.Size <= 0 {
			return fmt.Errorf("%w: read of %d bytes", ErrInvalidArgument, cmd.Size)
		}
		buf := make([]byte, cmd.Size)
		if err := tracee.addressSpace.CopyIn(cmd.Address, buf); err != nil {
			return err
		}
		cmd.Data = buf
		return nil
	case DebugWriteMemory:
		if len(cmd.Data) == 0 {
			return fmt.Errorf("%w: empty write", ErrInvalidArgument)
		}
		return tracee.addressSpace.CopyOut(cmd.Address, cmd.Data)
	case DebugGetBreakInformation:
		leader, err := d.leaderThread(tracee)
		if err != nil {
			return err
		}
		info := &BreakInformation{ThreadID: leader.ID, Frame: leader.TrapFrame}
		// Instruction bytes around the counter are best effort; an
		// unmapped counter leaves them zero.
		_ = tracee.addressSpace.CopyIn(leader.TrapFrame.PC, info.InstructionBytes[:])
		cmd.Break = info
		return nil
	case DebugSetBreakInformation:
		if cmd.Break == nil {
			return fmt.Errorf("%w: no break information", ErrInvalidArgument)
		}
		leader, err := d.leaderThread(tracee)
		if err != nil {
			return err
		}
		frame := cmd.Break.Frame
		frame.Flags &= trapFlagsUserMask
		leader.TrapFrame = frame
		return nil
	case DebugGetSignalInformation:
		cmd.Params = d.signalInfo
		return nil
	case DebugSetSignalInformation:
		d.signalInfo = cmd.Params
		return nil
	case DebugSingleStep:
		leader, err := d.leaderThread(tracee)
		if err != nil {
			return err
		}
		leader.TrapFrame.Flags |= TrapFlagSingleStep
		d.stepRange = nil
		return nil
	case DebugRangeStep:
		if cmd.Range.End <= cmd.Range.Start {
			return fmt.Errorf("%w: empty step range", ErrInvalidArgument)
		}
		leader, err := d.leaderThread(tracee)
		if err != nil {
			return err
		}
		stepRange := cmd.Range
		d.stepRange = &stepRange
		leader.TrapFrame.Flags |= TrapFlagSingleStep
		return nil
	case DebugContinue:
		if cmd.Signal != SignalInvalid {
			if err := tracee.Signal(cmd.Signal, SignalParameters{SignalNumber: uint32(cmd.Signal)}); err != nil {
				return err
			}
		}
		tracee.continueInternal()
		return nil
	case DebugSwitchThread:
		tracee.lock.Acquire()
		defer tracee.lock.Release()
		for _, t := range tracee.threads {
			if t.ID == cmd.ThreadID {
				d.leader = cmd.ThreadID
				return nil
			}
		}
		return fmt.Errorf("%w: thread %d", ErrNoSuchThread, cmd.ThreadID)
	}
	return fmt.Errorf("%w: debug command %d", ErrInvalidArgument, cmd.Type)
}

// StepRangeFor returns the active range-step window for the tracee.
func (p *Process) StepRangeFor() (StepRange, bool) {
	p.lock.Acquire()
	defer p.lock.Release()
	if p.debug == nil || p.debug.stepRange == nil {
		return StepRange{}, false
	}
	return *p.debug.stepRange, true
}

// detachFromTracer removes a terminating tracee from its tracer's
// list.
func (p *Process) detachFromTracer() {
	p.lock.Acquire()
	var tracer *Process
	if p.debug != nil {
		tracer = p.debug.tracer
		p.debug.tracer = nil
	}
	p.lock.Release()
	if tracer == nil {
		return
	}
	tracer.lock.Acquire()
	delete(tracer.tracees, p.ID)
	tracer.lock.Release()
}

// orphanTracees runs on tracer termination: every tracee loses its
// tracer pointer and is taken down with kill then continue, so a
// stopped tracee does not hang forever.
func (p *Process) orphanTracees() {
	p.lock.Acquire()
	tracees := make([]*Process, 0, len(p.tracees))
	for _, tracee := range p.tracees {
		tracees = append(tracees, tracee)
	}
	p.tracees = make(map[ProcessID]*Process)
	p.lock.Release()

	for _, tracee := range tracees {
		tracee.lock.Acquire()
		if tracee.debug != nil {
			tracee.debug.tracer = nil
		}
		tracee.lock.Release()
		tracee.queueSignal(SignalKill, SignalParameters{SignalNumber: uint32(SignalKill)})
		tracee.queueSignal(SignalContinue, SignalParameters{SignalNumber: uint32(SignalContinue)})
	}
}
