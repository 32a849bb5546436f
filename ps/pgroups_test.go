package ps

import (
	"errors"
	"testing"
	"time"
)

func TestFirstProcessLeadsSessionAndGroup(t *testing.T) {
	s := newTestSystem(t)
	p, err := s.CreateProcess(CreateProcessArgs{CommandLine: []string{"/bin/init"}})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer p.killAllThreads(ExitReasonKilled, int(SignalKill))
	if p.GroupID() != p.ID || p.SessionID() != p.ID {
		t.Errorf("leader ids (group %d, session %d), want both %d", p.GroupID(), p.SessionID(), p.ID)
	}
	if outside, err := s.GroupOutsideParents(p.ID); err != nil || outside != 0 {
		t.Errorf("root group outside parents = %d (%v), want 0", outside, err)
	}
}

func TestForkInheritsGroup(t *testing.T) {
	s := newTestSystem(t)
	childIDs := make(chan ProcessID, 1)
	release := make(chan struct{})

	p0, t0 := startProcess(t, s, "/bin/leader", func(self *Thread) {
		childID, err := self.Fork(func(child *Thread) {
			<-release
			child.ExitProcess(0)
		})
		if err != nil {
			t.Errorf("fork: %v", err)
		}
		childIDs <- childID
		<-release
		self.ExitProcess(0)
	})

	childID := <-childIDs
	child, err := s.LookupProcess(childID)
	if err != nil {
		t.Fatalf("lookup child: %v", err)
	}
	defer child.ReleaseReference()
	if child.GroupID() != p0.ID || child.SessionID() != p0.ID {
		t.Errorf("child in (group %d, session %d), want parent's %d", child.GroupID(), child.SessionID(), p0.ID)
	}
	close(release)
	t0.Join()
}

func TestSessionLeaderCannotChangeGroup(t *testing.T) {
	s := newTestSystem(t)
	p, err := s.CreateProcess(CreateProcessArgs{CommandLine: []string{"/bin/leader"}})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer p.killAllThreads(ExitReasonKilled, int(SignalKill))
	if err := s.JoinProcessGroup(p, p.ID+100); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("leader join: %v, want ErrPermissionDenied", err)
	}
	if _, err := s.CreateSession(p); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("leader setsid: %v, want ErrPermissionDenied", err)
	}
}

func TestJoinVanishedGroupIsTooLate(t *testing.T) {
	s := newTestSystem(t)
	release := make(chan struct{})
	childIDs := make(chan ProcessID, 1)
	_, t0 := startProcess(t, s, "/bin/leader", func(self *Thread) {
		childID, err := self.Fork(func(child *Thread) {
			<-release
			child.ExitProcess(0)
		})
		if err != nil {
			t.Errorf("fork: %v", err)
		}
		childIDs <- childID
		<-release
		self.ExitProcess(0)
	})

	childID := <-childIDs
	child, err := s.LookupProcess(childID)
	if err != nil {
		t.Fatalf("lookup child: %v", err)
	}
	defer child.ReleaseReference()
	if err := s.JoinProcessGroup(child, childID+500); !errors.Is(err, ErrTooLate) {
		t.Errorf("join missing group: %v, want ErrTooLate", err)
	}
	close(release)
	t0.Join()
}

// TestOrphanedGroupBroadcast covers the transition to orphaned: the
// leader's child moves to its own group in the same session, stops, and
// the leader exits. The child's group loses its last outside parent and
// the stopped member sees hangup then continue.
func TestOrphanedGroupBroadcast(t *testing.T) {
	s := newTestSystem(t)
	const addr = uint64(0x8000)
	childIDs := make(chan ProcessID, 1)
	leaderMayExit := make(chan struct{})

	_, t0 := startProcess(t, s, "/bin/leader", func(self *Thread) {
		if err := self.Process().AddressSpace().Map(addr, 4096); err != nil {
			t.Errorf("map: %v", err)
		}
		childID, err := self.Fork(func(child *Thread) {
			// Keep the broadcast hangup pending instead of letting
			// its default action take the process down.
			child.SetBlockedSignals(SignalSet(0).Add(SignalHangup))
			child.WaitOnAddress(addr, 0, -1)
			child.ExitProcess(0)
		})
		if err != nil {
			t.Errorf("fork: %v", err)
		}
		childIDs <- childID
		<-leaderMayExit
		self.ExitProcess(0)
	})

	childID := <-childIDs
	child, err := s.LookupProcess(childID)
	if err != nil {
		t.Fatalf("lookup child: %v", err)
	}
	defer child.ReleaseReference()

	if err := s.JoinProcessGroup(child, childID); err != nil {
		t.Fatalf("new group: %v", err)
	}
	if outside, err := s.GroupOutsideParents(childID); err != nil || outside != 1 {
		t.Fatalf("outside parents = %d (%v), want 1 before the leader exits", outside, err)
	}

	waitForBlockedWaiter(t, s, addr)
	if err := s.SignalProcess(childID, SignalStop, SignalParameters{}); err != nil {
		t.Fatalf("stop child: %v", err)
	}
	if !child.Stopped() {
		t.Fatal("child not stopped")
	}

	close(leaderMayExit)
	t0.Join()

	if outside, err := s.GroupOutsideParents(childID); err != nil || outside != 0 {
		t.Errorf("outside parents = %d (%v), want 0 after the leader exits", outside, err)
	}
	if !child.PendingSignals().Contains(SignalHangup) {
		t.Error("orphaned stopped group member has no pending hangup")
	}
	if child.Stopped() {
		t.Error("continue broadcast did not resume the stopped member")
	}

	// Let the child drain and exit.
	for i := 0; i < 500; i++ {
		s.addressWaits.wakeOne(addr)
		if _, err := s.LookupProcess(childID); err != nil {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewSessionClearsTerminal(t *testing.T) {
	s := newTestSystem(t)
	terminal := &Terminal{}
	childIDs := make(chan ProcessID, 1)
	release := make(chan struct{})

	p0, err := s.CreateProcess(CreateProcessArgs{
		CommandLine:         []string{"/bin/login"},
		ControllingTerminal: terminal,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if err := terminal.Associate(p0.SessionID()); err != nil {
		t.Fatalf("associate terminal: %v", err)
	}
	sessionReady := make(chan struct{})
	t0, err := p0.CreateThread(func(self *Thread) {
		childID, forkErr := self.Fork(func(child *Thread) {
			if _, err := child.NewSession(); err != nil {
				t.Errorf("setsid: %v", err)
			}
			close(sessionReady)
			<-release
			child.ExitProcess(0)
		})
		if forkErr != nil {
			t.Errorf("fork: %v", forkErr)
		}
		childIDs <- childID
		<-release
		self.ExitProcess(0)
	}, 0)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	childID := <-childIDs
	child, err := s.LookupProcess(childID)
	if err != nil {
		t.Fatalf("lookup child: %v", err)
	}
	defer child.ReleaseReference()
	<-sessionReady
	if child.SessionID() != childID || child.GroupID() != childID {
		t.Errorf("after setsid (group %d, session %d), want both %d", child.GroupID(), child.SessionID(), childID)
	}
	child.lock.Acquire()
	hasTerminal := child.terminal != nil
	child.lock.Release()
	if hasTerminal {
		t.Error("controlling terminal survived setsid")
	}
	close(release)
	t0.Join()
}

func TestSignalProcessGroupReachesAllMembers(t *testing.T) {
	s := newTestSystem(t)
	release := make(chan struct{})
	childIDs := make(chan ProcessID, 2)

	p0, t0 := startProcess(t, s, "/bin/leader", func(self *Thread) {
		for i := 0; i < 2; i++ {
			childID, err := self.Fork(func(child *Thread) {
				<-release
				child.ExitProcess(0)
			})
			if err != nil {
				t.Errorf("fork %d: %v", i, err)
			}
			childIDs <- childID
		}
		<-release
		self.ExitProcess(0)
	})

	first, second := <-childIDs, <-childIDs
	for _, id := range []ProcessID{first, second} {
		child, err := s.LookupProcess(id)
		if err != nil {
			t.Fatalf("lookup %d: %v", id, err)
		}
		if err := child.SetSignalHandler(SignalApplication1, &SignalHandler{}); err != nil {
			t.Fatalf("handle: %v", err)
		}
		child.ReleaseReference()
	}
	if err := s.SignalProcessGroup(p0.ID, SignalApplication1, SignalParameters{}); err != nil {
		t.Fatalf("signal group: %v", err)
	}
	for _, id := range []ProcessID{first, second} {
		child, err := s.LookupProcess(id)
		if err != nil {
			t.Fatalf("lookup %d: %v", id, err)
		}
		if !child.PendingSignals().Contains(SignalApplication1) {
			t.Errorf("group member %d missing the signal", id)
		}
		child.ReleaseReference()
	}
	if err := s.SignalProcessGroup(ProcessID(9999), SignalApplication1, SignalParameters{}); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("missing group: %v, want ErrNoSuchProcess", err)
	}
	close(release)
	t0.Join()
}
