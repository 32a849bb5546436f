package ps

import (
	"encoding/binary"
	"fmt"
)

// Signal-context flag bits, visible to handlers through the flags word
// saved in user memory.
const (
	SignalContextFlagFpuValid uint32 = 1 << 0
	SignalContextFlagRestart  uint32 = 1 << 1
)

// Saved-context layout in user memory, little endian:
//
//	0   next pointer (always 0)
//	8   blocked-signal mask to restore
//	16  alternate-stack descriptor (not supported, 0)
//	24  trap frame: pc, sp, arg0, arg1, flags, return value
//	72  context flags
//	76  reserved
//	80  fpu context when the fpu-valid flag is set
const (
	signalContextFlagsOffset = 72
	signalContextBaseSize    = 80
	fpuContextSize           = 64
	signalParametersSize     = 40
	signalRedZone            = 128
	signalStackAlignment     = 16
)

// SignalContext is the kernel-side view of one saved context.
type SignalContext struct {
	Next       uint64
	Mask       SignalSet
	AltStack   uint64
	Frame      TrapFrame
	Flags      uint32
	FpuContext [fpuContextSize]byte
}

func encodeSignalContext(ctx *SignalContext) []byte {
	size := signalContextBaseSize
	if ctx.Flags&SignalContextFlagFpuValid != 0 {
		size += fpuContextSize
	}
	buf := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint64(buf[0:], ctx.Next)
	le.PutUint64(buf[8:], uint64(ctx.Mask))
	le.PutUint64(buf[16:], ctx.AltStack)
	le.PutUint64(buf[24:], ctx.Frame.PC)
	le.PutUint64(buf[32:], ctx.Frame.SP)
	le.PutUint64(buf[40:], ctx.Frame.Arg0)
	le.PutUint64(buf[48:], ctx.Frame.Arg1)
	le.PutUint64(buf[56:], ctx.Frame.Flags)
	le.PutUint64(buf[64:], ctx.Frame.ReturnValue)
	le.PutUint32(buf[signalContextFlagsOffset:], ctx.Flags)
	if ctx.Flags&SignalContextFlagFpuValid != 0 {
		copy(buf[signalContextBaseSize:], ctx.FpuContext[:])
	}
	return buf
}

func decodeSignalContext(buf []byte) SignalContext {
	le := binary.LittleEndian
	ctx := SignalContext{
		Next:     le.Uint64(buf[0:]),
		Mask:     SignalSet(le.Uint64(buf[8:])),
		AltStack: le.Uint64(buf[16:]),
		Frame: TrapFrame{
			PC:          le.Uint64(buf[24:]),
			SP:          le.Uint64(buf[32:]),
			Arg0:        le.Uint64(buf[40:]),
			Arg1:        le.Uint64(buf[48:]),
			Flags:       le.Uint64(buf[56:]),
			ReturnValue: le.Uint64(buf[64:]),
		},
		Flags: le.Uint32(buf[signalContextFlagsOffset:]),
	}
	return ctx
}

func encodeSignalParameters(params *SignalParameters) []byte {
	buf := make([]byte, signalParametersSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], params.SignalNumber)
	le.PutUint32(buf[4:], params.SignalCode)
	le.PutUint32(buf[8:], params.ErrorNumber)
	le.PutUint32(buf[12:], params.SendingUserID)
	le.PutUint64(buf[16:], uint64(params.SendingProcess))
	le.PutUint64(buf[24:], uint64(params.Value))
	le.PutUint64(buf[32:], params.FaultAddress)
	return buf
}

// ReadSignalContextFlags reads the flags word of a saved context, the
// way a handler inspects the restart disposition.
func (t *Thread) ReadSignalContextFlags(contextAddress uint64) (uint32, error) {
	var word [4]byte
	err := t.process.addressSpace.CopyIn(contextAddress+signalContextFlagsOffset, word[:])
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(word[:]), nil
}

// ClearSignalContextRestart clears the restart flag in a saved context.
// A handler calls this to decline re-execution of the interrupted
// system call.
func (t *Thread) ClearSignalContextRestart(contextAddress uint64) error {
	flags, err := t.ReadSignalContextFlags(contextAddress)
	if err != nil {
		return err
	}
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], flags&^SignalContextFlagRestart)
	return t.process.addressSpace.CopyOut(contextAddress+signalContextFlagsOffset, word[:])
}

// dispatchSignals drains the thread's deliverable signals. Handled
// signals run the process handler entry with a context saved on the
// user stack; defaults act in place. syscallNumber and parameter feed
// the restart protocol when restartCandidate is set. Returns whether
// anything was consumed.
func (t *Thread) dispatchSignals(syscallNumber uint32, parameter uint64, restartCandidate bool) bool {
	consumed := false
	for {
		q, ok := t.dequeuePendingSignal(0)
		if !ok {
			return consumed
		}
		consumed = true
		p := t.process
		p.lock.Acquire()
		handler := p.handlers[q.signal]
		entry := p.handlerEntry
		p.lock.Release()
		if handler == nil || entry == nil {
			t.applyDefaultAction(q)
			continue
		}
		t.dispatchToHandler(q, handler, entry, syscallNumber, parameter, restartCandidate)
		// A restarted syscall re-executes before later signals
		// deliver; leave the rest queued.
		if restartCandidate {
			return true
		}
	}
}

// applyDefaultAction runs a dequeued signal's default: discard the
// default-ignored ones, stop on the stop set, kill otherwise.
func (t *Thread) applyDefaultAction(q queuedSignal) {
	switch {
	case defaultIgnoredSignals.Contains(q.signal):
	case defaultStopSignals.Contains(q.signal):
		t.process.stopInternal(q.signal)
	default:
		t.process.killAllThreads(ExitReasonKilled, int(q.signal))
		t.exitIfKilled()
	}
}

// dispatchToHandler performs the user-mode pseudo-call: save the
// context and parameters on the user stack, block the signal, run the
// handler entry, and sigreturn.
func (t *Thread) dispatchToHandler(q queuedSignal, handler *SignalHandler, entry HandlerEntry, syscallNumber uint32, parameter uint64, restart bool) {
	ctx := SignalContext{
		Mask:  t.blockedSignals,
		Frame: t.TrapFrame,
	}
	if t.fpuInUse {
		ctx.Flags |= SignalContextFlagFpuValid
	}
	if restart {
		ctx.Flags |= SignalContextFlagRestart
		// Reload the argument registers in the saved frame so a
		// restart re-enters the call with its original operands.
		ctx.Frame.Arg0 = uint64(syscallNumber)
		ctx.Frame.Arg1 = parameter
	}

	contextBytes := encodeSignalContext(&ctx)
	paramBytes := encodeSignalParameters(&q.params)
	sp := t.TrapFrame.SP - signalRedZone
	paramsAddress := alignDown(sp-signalParametersSize, signalStackAlignment)
	contextAddress := alignDown(paramsAddress-uint64(len(contextBytes)), signalStackAlignment)

	space := t.process.addressSpace
	if err := space.CopyOut(contextAddress, contextBytes); err != nil {
		t.handleDispatchFault(contextAddress, err)
		return
	}
	if err := space.CopyOut(paramsAddress, paramBytes); err != nil {
		t.handleDispatchFault(paramsAddress, err)
		return
	}

	saved := t.blockedSignals
	t.blockedSignals = (saved.Add(q.signal) | handler.Mask) &^ unblockableSignals
	t.TrapFrame.SP = contextAddress
	t.TrapFrame.Flags &^= TrapFlagSingleStep

	entry(t, q.params, contextAddress)
	if err := t.Sigreturn(contextAddress); err != nil {
		t.blockedSignals = saved
		t.process.killAllThreads(ExitReasonKilled, int(SignalAccessViolation))
		t.exitIfKilled()
	}
}

// handleDispatchFault deals with a context write landing outside the
// mapped stack: the thread takes an access-violation kill.
func (t *Thread) handleDispatchFault(address uint64, err error) {
	t.sys.log.Errorf("thread %d: signal context write fault at %#x: %s", t.ID, address, err)
	t.process.killAllThreads(ExitReasonKilled, int(SignalAccessViolation))
	t.exitIfKilled()
}

// Sigreturn restores the pre-signal execution state from a saved
// context: trap frame with the flags word sanitised to user bits, the
// blocked mask, the FPU disowned so the next touch reloads it, and the
// restart rewind when the flag survived the handler.
func (t *Thread) Sigreturn(contextAddress uint64) error {
	size := signalContextBaseSize + fpuContextSize
	buf := make([]byte, size)
	space := t.process.addressSpace
	if err := space.CopyIn(contextAddress, buf[:signalContextBaseSize]); err != nil {
		return fmt.Errorf("sigreturn: %w", err)
	}
	ctx := decodeSignalContext(buf)
	if ctx.Flags&SignalContextFlagFpuValid != 0 {
		if err := space.CopyIn(contextAddress+signalContextBaseSize, buf[signalContextBaseSize:]); err != nil {
			return fmt.Errorf("sigreturn: %w", err)
		}
		copy(ctx.FpuContext[:], buf[signalContextBaseSize:])
	}

	frame := ctx.Frame
	frame.Flags &= trapFlagsUserMask
	t.TrapFrame = frame
	t.blockedSignals = ctx.Mask &^ unblockableSignals
	t.fpuOwner = false

	if ctx.Flags&SignalContextFlagRestart != 0 {
		t.TrapFrame.PC -= SyscallInstructionLength
	}
	return nil
}

func alignDown(value, alignment uint64) uint64 {
	return value &^ (alignment - 1)
}
