package ps

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestProcessInformationRoundTrip(t *testing.T) {
	s := newTestSystem(t)
	p, err := s.CreateProcess(CreateProcessArgs{CommandLine: []string{"/bin/query"}})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer p.killAllThreads(ExitReasonKilled, int(SignalKill))

	size, err := s.GetProcessInformation(p.ID, ProcessInformationVersion, nil)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("sizing probe: %v, want ErrBufferTooSmall", err)
	}
	buf := make([]byte, size)
	n, err := s.GetProcessInformation(p.ID, ProcessInformationVersion, buf)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	info, err := DecodeProcessInformation(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ProcessID != int64(p.ID) || info.BinaryName != "query" {
		t.Errorf("snapshot (%d, %q), want (%d, %q)", info.ProcessID, info.BinaryName, p.ID, "query")
	}
	if info.GroupID != int64(p.ID) || info.SessionID != int64(p.ID) {
		t.Errorf("snapshot group/session (%d, %d), want (%d, %d)", info.GroupID, info.SessionID, p.ID, p.ID)
	}

	if _, err := s.GetProcessInformation(p.ID, 99, buf); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("future version: %v, want ErrVersionMismatch", err)
	}
	if _, err := s.GetProcessInformation(ProcessID(9999), ProcessInformationVersion, buf); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("missing process: %v, want ErrNoSuchProcess", err)
	}
}

func TestAllProcessInformationOrdered(t *testing.T) {
	s := newTestSystem(t)
	var created []*Process
	for _, name := range []string{"/bin/a", "/bin/b", "/bin/c"} {
		p, err := s.CreateProcess(CreateProcessArgs{CommandLine: []string{name}})
		if err != nil {
			t.Fatalf("CreateProcess(%s): %v", name, err)
		}
		created = append(created, p)
	}
	defer func() {
		for _, p := range created {
			p.killAllThreads(ExitReasonKilled, int(SignalKill))
		}
	}()

	size, _ := s.GetAllProcessInformation(ProcessInformationVersion, nil)
	buf := make([]byte, size)
	n, err := s.GetAllProcessInformation(ProcessInformationVersion, buf)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	list, err := DecodeProcessInformationList(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != len(created) {
		t.Fatalf("snapshot holds %d processes, want %d", len(list), len(created))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ProcessID >= list[i].ProcessID {
			t.Errorf("snapshot unordered at %d: %d then %d", i, list[i-1].ProcessID, list[i].ProcessID)
		}
	}
}

func TestThreadListAndInformation(t *testing.T) {
	s := newTestSystem(t)
	hold := make(chan struct{})
	p, t0 := startProcess(t, s, "/bin/threads", func(self *Thread) {
		<-hold
		self.ExitProcess(0)
	})

	size, _ := s.GetThreadList(p.ID, nil)
	buf := make([]byte, size)
	n, err := s.GetThreadList(p.ID, buf)
	if err != nil {
		t.Fatalf("thread list: %v", err)
	}
	ids, err := DecodeThreadList(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 1 || ids[0] != t0.ID {
		t.Errorf("thread list %v, want [%d]", ids, t0.ID)
	}

	size, _ = s.GetThreadInformation(p.ID, t0.ID, ThreadInformationVersion, nil)
	buf = make([]byte, size)
	n, err = s.GetThreadInformation(p.ID, t0.ID, ThreadInformationVersion, buf)
	if err != nil {
		t.Fatalf("thread information: %v", err)
	}
	info, err := DecodeThreadInformation(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ThreadID != int64(t0.ID) || info.ProcessID != int64(p.ID) {
		t.Errorf("snapshot (%d, %d), want (%d, %d)", info.ThreadID, info.ProcessID, t0.ID, p.ID)
	}
	if _, err := s.GetThreadInformation(p.ID, ThreadID(9999), ThreadInformationVersion, buf); !errors.Is(err, ErrNoSuchThread) {
		t.Errorf("missing thread: %v, want ErrNoSuchThread", err)
	}
	close(hold)
	t0.Join()
}

func TestGetSetUts(t *testing.T) {
	s := newTestSystem(t)
	admin, err := s.CreateProcess(CreateProcessArgs{CommandLine: []string{"/bin/admin"}})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer admin.killAllThreads(ExitReasonKilled, int(SignalKill))
	user, err := s.CreateProcess(CreateProcessArgs{
		CommandLine: []string{"/bin/user"},
		Identity:    Identity{RealUserID: 1000, EffectiveUserID: 1000},
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer user.killAllThreads(ExitReasonKilled, int(SignalKill))

	if name, err := user.GetSetUts(UtsHostName, false, ""); err != nil || name != "chalkos" {
		t.Errorf("hostname = %q (%v), want chalkos", name, err)
	}
	if _, err := user.GetSetUts(UtsHostName, true, "rogue"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-admin set: %v, want ErrPermissionDenied", err)
	}
	if _, err := admin.GetSetUts(UtsHostName, true, "buildbox"); err != nil {
		t.Fatalf("admin set: %v", err)
	}
	// Both processes share the root realm, so the write is visible
	// through either.
	if name, _ := user.GetSetUts(UtsHostName, false, ""); name != "buildbox" {
		t.Errorf("hostname after set = %q, want buildbox", name)
	}
	if _, err := admin.GetSetUts(UtsDomainName, true, string(make([]byte, HostNameMax+1))); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("oversized name: %v, want ErrInvalidArgument", err)
	}
}

func TestForkSharesRealm(t *testing.T) {
	s := newTestSystem(t)
	childIDs := make(chan ProcessID, 1)
	release := make(chan struct{})
	p0, t0 := startProcess(t, s, "/bin/parent", func(self *Thread) {
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
	if child.Realm() != p0.Realm() {
		t.Error("fork did not share the UTS realm")
	}
	child.ReleaseReference()
	close(release)
	t0.Join()
}

func TestAccountingRecordsTermination(t *testing.T) {
	s := newTestSystem(t)
	acct, err := OpenAccountant(filepath.Join(t.TempDir(), "acct.db"))
	if err != nil {
		t.Fatalf("OpenAccountant: %v", err)
	}
	s.SetAccountant(acct)

	p, t0 := startProcess(t, s, "/bin/billed", func(self *Thread) {
		self.ExitProcess(5)
	})
	t0.Join()

	records, err := acct.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("%d records, want 1", len(records))
	}
	r := records[0]
	if r.ProcessID != p.ID || r.BinaryName != "billed" {
		t.Errorf("record (%d, %q), want (%d, billed)", r.ProcessID, r.BinaryName, p.ID)
	}
	if r.ExitReason != "exited" || r.ExitStatus != 5 {
		t.Errorf("record (%s, %d), want (exited, 5)", r.ExitReason, r.ExitStatus)
	}
	if r.ID == "" {
		t.Error("record has no id")
	}
}

func TestResourceLimitRules(t *testing.T) {
	s := newTestSystem(t)
	hold := make(chan struct{})
	defer close(hold)
	_, t0 := startProcess(t, s, "/bin/limited", func(self *Thread) {
		<-hold
		self.ExitProcess(0)
	})

	limit, err := t0.GetResourceLimit(ResourceLimitStack)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if limit.Current == 0 || limit.Current > limit.Max {
		t.Fatalf("default stack limit %+v out of order", limit)
	}
	if err := t0.SetResourceLimit(ResourceLimitStack, ResourceLimit{Current: 1 << 16, Max: limit.Max}); err != nil {
		t.Errorf("lower current: %v", err)
	}
	if err := t0.SetResourceLimit(ResourceLimitStack, ResourceLimit{Current: 1, Max: limit.Max + 1}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("raise max: %v, want ErrPermissionDenied", err)
	}
	if err := t0.SetResourceLimit(ResourceLimitStack, ResourceLimit{Current: 2, Max: 1}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("current above max: %v, want ErrInvalidArgument", err)
	}
	if _, err := t0.GetResourceLimit(ResourceLimitKind(99)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad kind: %v, want ErrInvalidArgument", err)
	}
}

func TestGetResourceUsageLookup(t *testing.T) {
	s := newTestSystem(t)
	if _, _, err := s.GetResourceUsage(ProcessID(424242)); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("missing process: %v, want ErrNoSuchProcess", err)
	}
}
