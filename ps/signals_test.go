package ps

import (
	"errors"
	"testing"
	"time"
)

// waitForBlockedWaiter polls until a thread parks on the address wait
// table, so tests can signal at a deterministic point.
func waitForBlockedWaiter(t *testing.T, s *System, addr uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.addressWaits.mu.Lock()
		waiting := len(s.addressWaits.waiters[addr]) > 0
		s.addressWaits.mu.Unlock()
		if waiting {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("thread never parked on the wait address")
}

type restartResult struct {
	err      error
	attempts int
	arg0     uint64
	arg1     uint64
}

func TestRestartableSyscallReexecutes(t *testing.T) {
	s := newTestSystem(t)
	const addr = uint64(0x8000)
	flagsCh := make(chan uint32, 1)
	results := make(chan restartResult, 1)

	p, t0 := startProcess(t, s, "/bin/restart", func(self *Thread) {
		proc := self.Process()
		if err := proc.AddressSpace().Map(addr, 4096); err != nil {
			t.Errorf("map: %v", err)
		}
		proc.SetHandlerEntry(func(th *Thread, params SignalParameters, contextAddress uint64) {
			flags, err := th.ReadSignalContextFlags(contextAddress)
			if err != nil {
				t.Errorf("read context flags: %v", err)
			}
			flagsCh <- flags
		})
		if err := proc.SetSignalHandler(SignalApplication1, &SignalHandler{}); err != nil {
			t.Errorf("set handler: %v", err)
		}

		err := self.WaitOnAddress(addr, 0, -1)
		results <- restartResult{
			err:  err,
			arg0: self.TrapFrame.Arg0,
			arg1: self.TrapFrame.Arg1,
		}
		self.ExitProcess(0)
	})

	waitForBlockedWaiter(t, s, addr)
	if err := s.SignalProcess(p.ID, SignalApplication1, SignalParameters{SignalNumber: uint32(SignalApplication1)}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	flags := <-flagsCh
	if flags&SignalContextFlagRestart == 0 {
		t.Errorf("context flags %#x missing the restart flag", flags)
	}

	// The handler kept Restart, so the call re-executes and parks
	// again; a wake completes it.
	var res restartResult
	for done := false; !done; {
		select {
		case res = <-results:
			done = true
		case <-time.After(20 * time.Millisecond):
			s.addressWaits.wakeOne(addr)
		}
	}
	if res.err != nil {
		t.Fatalf("restarted syscall: %v", res.err)
	}
	if res.arg0 != uint64(SyscallUserLock) {
		t.Errorf("first argument register %#x, want syscall number %#x", res.arg0, uint64(SyscallUserLock))
	}
	if res.arg1 != addr {
		t.Errorf("second argument register %#x, want parameter %#x", res.arg1, addr)
	}
	t0.Join()
}

func TestHandlerDecliningRestartSeesInterrupted(t *testing.T) {
	s := newTestSystem(t)
	const addr = uint64(0x8000)
	results := make(chan error, 1)

	p, t0 := startProcess(t, s, "/bin/norestart", func(self *Thread) {
		proc := self.Process()
		if err := proc.AddressSpace().Map(addr, 4096); err != nil {
			t.Errorf("map: %v", err)
		}
		proc.SetHandlerEntry(func(th *Thread, params SignalParameters, contextAddress uint64) {
			if err := th.ClearSignalContextRestart(contextAddress); err != nil {
				t.Errorf("clear restart: %v", err)
			}
		})
		if err := proc.SetSignalHandler(SignalApplication1, &SignalHandler{}); err != nil {
			t.Errorf("set handler: %v", err)
		}
		results <- self.WaitOnAddress(addr, 0, -1)
		self.ExitProcess(0)
	})

	waitForBlockedWaiter(t, s, addr)
	if err := s.SignalProcess(p.ID, SignalApplication1, SignalParameters{SignalNumber: uint32(SignalApplication1)}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if err := <-results; !errors.Is(err, ErrInterrupted) {
		t.Errorf("declined restart: %v, want ErrInterrupted", err)
	}
	t0.Join()
}

func TestHandlerReceivesParameters(t *testing.T) {
	s := newTestSystem(t)
	const addr = uint64(0x8000)
	received := make(chan SignalParameters, 1)

	p, t0 := startProcess(t, s, "/bin/params", func(self *Thread) {
		proc := self.Process()
		if err := proc.AddressSpace().Map(addr, 4096); err != nil {
			t.Errorf("map: %v", err)
		}
		proc.SetHandlerEntry(func(th *Thread, params SignalParameters, contextAddress uint64) {
			received <- params
		})
		if err := proc.SetSignalHandler(SignalApplication2, &SignalHandler{}); err != nil {
			t.Errorf("set handler: %v", err)
		}
		self.WaitOnAddress(addr, 0, -1)
		self.ExitProcess(0)
	})

	waitForBlockedWaiter(t, s, addr)
	want := SignalParameters{
		SignalNumber:   uint32(SignalApplication2),
		SendingProcess: 42,
		Value:          1234,
	}
	if err := s.SignalProcess(p.ID, SignalApplication2, want); err != nil {
		t.Fatalf("signal: %v", err)
	}
	got := <-received
	if got != want {
		t.Errorf("handler parameters %+v, want %+v", got, want)
	}
	for {
		s.addressWaits.wakeOne(addr)
		select {
		case <-t0.done:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopAndContinue(t *testing.T) {
	s := newTestSystem(t)
	hold := make(chan struct{})
	p, _ := startProcess(t, s, "/bin/job", func(self *Thread) {
		<-hold
		self.ExitProcess(0)
	})

	if err := p.Signal(SignalStop, SignalParameters{SignalNumber: uint32(SignalStop)}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !p.Stopped() {
		t.Error("process not stopped after stop signal")
	}
	if !p.stopEvent.Signaled() {
		t.Error("stop event not signaled while stopped")
	}
	if err := p.Signal(SignalContinue, SignalParameters{SignalNumber: uint32(SignalContinue)}); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if p.Stopped() {
		t.Error("process still stopped after continue")
	}
	close(hold)
}

func TestStopReportsToParent(t *testing.T) {
	s := newTestSystem(t)
	const addr = uint64(0x8000)
	results := make(chan forkWaitResult, 1)

	_, t0 := startProcess(t, s, "/bin/shell", func(self *Thread) {
		if err := self.Process().AddressSpace().Map(addr, 4096); err != nil {
			t.Errorf("map: %v", err)
		}
		childID, err := self.Fork(func(child *Thread) {
			child.WaitOnAddress(addr, 0, -1)
			child.ExitProcess(0)
		})
		if err != nil {
			t.Errorf("fork: %v", err)
		}
		waitForBlockedWaiter(t, s, addr)
		if err := self.System().SignalProcess(childID, SignalRequestStop, SignalParameters{}); err != nil {
			t.Errorf("stop child: %v", err)
		}
		event, err := self.Wait(time.Second)
		results <- forkWaitResult{childID: childID, event: event, err: err}
		if err := self.System().SignalProcess(childID, SignalKill, SignalParameters{}); err != nil {
			t.Errorf("kill child: %v", err)
		}
		if _, err := self.Wait(time.Second); err != nil {
			t.Errorf("reap child: %v", err)
		}
		self.ExitProcess(0)
	})

	t0.Join()
	res := <-results
	if res.err != nil {
		t.Fatalf("wait: %v", res.err)
	}
	if res.event.Reason != ExitReasonStopped || res.event.ProcessID != res.childID {
		t.Errorf("wait saw (%d, %s), want (%d, stopped)", res.event.ProcessID, res.event.Reason, res.childID)
	}
	if res.event.Status != int(SignalRequestStop) {
		t.Errorf("stop status %d, want %d", res.event.Status, SignalRequestStop)
	}
}

func TestIgnoredSignalNeverQueues(t *testing.T) {
	s := newTestSystem(t)
	hold := make(chan struct{})
	p, _ := startProcess(t, s, "/bin/deaf", func(self *Thread) {
		<-hold
		self.ExitProcess(0)
	})
	if err := p.SetSignalIgnored(SignalApplication1, true); err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if err := p.Signal(SignalApplication1, SignalParameters{}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if p.PendingSignals().Contains(SignalApplication1) {
		t.Error("ignored signal queued anyway")
	}
	// Child-activity is discarded by default with no handler.
	if err := p.Signal(SignalChildProcessActivity, SignalParameters{}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if p.PendingSignals().Contains(SignalChildProcessActivity) {
		t.Error("default-ignored signal queued without a handler")
	}
	close(hold)
}

func TestUnblockableSignalRejections(t *testing.T) {
	s := newTestSystem(t)
	p, err := s.CreateProcess(CreateProcessArgs{CommandLine: []string{"/bin/x"}})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer p.killAllThreads(ExitReasonKilled, int(SignalKill))

	for _, signal := range []Signal{SignalKill, SignalStop} {
		if err := p.SetSignalHandler(signal, &SignalHandler{}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("handling %s: %v, want ErrInvalidArgument", signal, err)
		}
		if err := p.SetSignalIgnored(signal, true); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ignoring %s: %v, want ErrInvalidArgument", signal, err)
		}
	}
	if err := p.Signal(SignalInvalid, SignalParameters{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("signal 0: %v, want ErrInvalidArgument", err)
	}
	if err := p.Signal(Signal(99), SignalParameters{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("signal 99: %v, want ErrInvalidArgument", err)
	}
}

func TestDefaultActionKills(t *testing.T) {
	s := newTestSystem(t)
	const addr = uint64(0x8000)

	p, t0 := startProcess(t, s, "/bin/doomed", func(self *Thread) {
		if err := self.Process().AddressSpace().Map(addr, 4096); err != nil {
			t.Errorf("map: %v", err)
		}
		self.WaitOnAddress(addr, 0, -1)
		t.Error("survived a default-terminate signal")
	})

	waitForBlockedWaiter(t, s, addr)
	if err := p.Signal(SignalRequestTermination, SignalParameters{SignalNumber: uint32(SignalRequestTermination)}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	t0.Join()
	exit := p.ExitStatus()
	if exit.Reason != ExitReasonKilled || exit.Status != int(SignalRequestTermination) {
		t.Errorf("exit (%s, %d), want (killed, %d)", exit.Reason, exit.Status, SignalRequestTermination)
	}
}

func TestSignalSetOperations(t *testing.T) {
	var set SignalSet
	set = set.Add(SignalHangup).Add(SignalStop)
	if !set.Contains(SignalHangup) || !set.Contains(SignalStop) {
		t.Error("added signals missing from set")
	}
	set = set.Remove(SignalHangup)
	if set.Contains(SignalHangup) {
		t.Error("removed signal still present")
	}
	if got := set.String(); got != "stop" {
		t.Errorf("String() = %q, want %q", got, "stop")
	}
	if got := SignalSet(0).String(); got != "(empty)" {
		t.Errorf("empty String() = %q", got)
	}
}
