// Package ps is the process subsystem: processes, threads, signals,
// fork/exec/exit/wait, process groups and sessions, debug tracing, UTS
// realms, and the dead-thread reaper.
package ps

import "errors"

// Sentinel errors for the subsystem's failure taxonomy. System calls
// wrap these with context; callers match with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTooLate          = errors.New("too late")
	ErrBufferTooSmall   = errors.New("buffer too small")
	ErrVersionMismatch  = errors.New("version mismatch")
	ErrNoSuchProcess    = errors.New("no such process")
	ErrNoSuchThread     = errors.New("no such thread")
	ErrInterrupted      = errors.New("interrupted")
	ErrTimeout          = errors.New("timed out")

	// ErrRestartAfterSignal is the internal status a blocking system
	// call returns when a signal with a user handler interrupted it.
	// The dispatch path converts it to a re-execution or to
	// ErrInterrupted; user code never observes it.
	ErrRestartAfterSignal = errors.New("restart after signal")
)
