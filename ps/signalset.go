package ps

import "strings"

// Signal numbers. The set mirrors the conventional job-control and
// fault signals the subsystem acts on; numbers start at 1.
type Signal int

const (
	SignalInvalid              Signal = 0
	SignalHangup               Signal = 1 // controlling terminal closed
	SignalInterrupt            Signal = 2
	SignalIllegalInstruction   Signal = 4
	SignalTrap                 Signal = 5
	SignalAbort                Signal = 6
	SignalBusError             Signal = 7
	SignalMathError            Signal = 8
	SignalKill                 Signal = 9
	SignalApplication1         Signal = 10
	SignalAccessViolation      Signal = 11
	SignalApplication2         Signal = 12
	SignalBrokenPipe           Signal = 13
	SignalTimer                Signal = 14
	SignalRequestTermination   Signal = 15
	SignalChildProcessActivity Signal = 17
	SignalContinue             Signal = 18
	SignalStop                 Signal = 19
	SignalRequestStop          Signal = 20

	SignalCount = 32
)

var signalNames = map[Signal]string{
	SignalHangup:               "hangup",
	SignalInterrupt:            "interrupt",
	SignalIllegalInstruction:   "illegal instruction",
	SignalTrap:                 "trap",
	SignalAbort:                "abort",
	SignalBusError:             "bus error",
	SignalMathError:            "math error",
	SignalKill:                 "kill",
	SignalAccessViolation:      "access violation",
	SignalBrokenPipe:           "broken pipe",
	SignalTimer:                "timer",
	SignalRequestTermination:   "request termination",
	SignalChildProcessActivity: "child activity",
	SignalContinue:             "continue",
	SignalStop:                 "stop",
	SignalRequestStop:          "request stop",
}

// String returns the signal's printable name.
func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return "signal"
}

// SignalSet is a bit-vector over signal numbers.
type SignalSet uint64

// Add sets a signal's bit.
func (s SignalSet) Add(signal Signal) SignalSet {
	return s | 1<<uint(signal)
}

// Remove clears a signal's bit.
func (s SignalSet) Remove(signal Signal) SignalSet {
	return s &^ (1 << uint(signal))
}

// Contains reports whether the signal's bit is set.
func (s SignalSet) Contains(signal Signal) bool {
	return s&(1<<uint(signal)) != 0
}

// String renders the member signal names for diagnostics.
func (s SignalSet) String() string {
	var names []string
	for signal := Signal(1); signal < SignalCount; signal++ {
		if s.Contains(signal) {
			names = append(names, signal.String())
		}
	}
	if names == nil {
		return "(empty)"
	}
	return strings.Join(names, "|")
}

// unblockableSignals can never be blocked, ignored, or handled.
const unblockableSignals = SignalSet(1<<SignalKill | 1<<SignalStop)

// defaultIgnoredSignals are discarded when no handler is installed.
var defaultIgnoredSignals = SignalSet(0).
	Add(SignalChildProcessActivity).
	Add(SignalContinue)

// defaultStopSignals stop the process when no handler is installed.
var defaultStopSignals = SignalSet(0).
	Add(SignalStop).
	Add(SignalRequestStop)
