package ps

import (
	"fmt"
	"sync/atomic"

	"github.com/minoca/chalkos/ke"
	"github.com/minoca/chalkos/ob"
	"github.com/tliron/commonlog"
)

// AdoptedParentID is the parent id reported by processes whose real
// parent exited before them.
const AdoptedParentID ProcessID = 1

// ProcessID identifies a process. Process-group and session ids share
// the space, since a group is identified by its leader's process id.
type ProcessID int64

// ThreadID identifies a thread system-wide.
type ThreadID int64

// System owns the global process state: the process and process-group
// lists and their locks, id counters, the object-manager directory the
// processes live under, the root UTS realm, the dead-thread reaper, and
// the optional accounting sink.
type System struct {
	log commonlog.Logger

	// processLock guards processes. groupLock guards groups, group
	// membership, and session edits, and orders before any process
	// lock.
	processLock *ke.QueuedLock
	processes   map[ProcessID]*Process
	groupLock   *ke.QueuedLock
	groups      map[ProcessID]*ProcessGroup

	nextProcessID atomic.Int64
	nextThreadID  atomic.Int64

	directory    *ob.Directory
	rootRealm    *UtsRealm
	reaper       *reaper
	addressWaits *addressWaitTable
	accountant   *Accountant
}

// NewSystem creates a process subsystem and starts its reaper.
func NewSystem() *System {
	s := &System{
		log:          commonlog.GetLogger("ps"),
		processLock:  ke.NewQueuedLock(),
		processes:    make(map[ProcessID]*Process),
		groupLock:    ke.NewQueuedLock(),
		groups:       make(map[ProcessID]*ProcessGroup),
		directory:    ob.NewDirectory("process"),
		rootRealm:    NewUtsRealm("chalkos", "local"),
		addressWaits: newAddressWaitTable(),
	}

	// The adopt id is reserved even before any process exists.
	s.nextProcessID.Store(int64(AdoptedParentID) - 1)
	s.reaper = newReaper(s)
	s.reaper.start()
	return s
}

// Shutdown stops the reaper and closes the accounting sink. Processes
// still running are left alone; tests kill them explicitly.
func (s *System) Shutdown() {
	s.reaper.stop()
	if s.accountant != nil {
		s.accountant.Close()
		s.accountant = nil
	}
}

// SetAccountant installs a termination-record sink.
func (s *System) SetAccountant(a *Accountant) {
	s.accountant = a
}

// RootRealm returns the system UTS realm.
func (s *System) RootRealm() *UtsRealm {
	return s.rootRealm
}

// Directory returns the object-manager directory holding processes.
func (s *System) Directory() *ob.Directory {
	return s.directory
}

// allocateProcessID returns the next unique process id.
func (s *System) allocateProcessID() ProcessID {
	return ProcessID(s.nextProcessID.Add(1))
}

// allocateThreadID returns the next unique thread id.
func (s *System) allocateThreadID() ThreadID {
	return ThreadID(s.nextThreadID.Add(1))
}

// LookupProcess finds a process by id with an added reference.
func (s *System) LookupProcess(id ProcessID) (*Process, error) {
	s.processLock.Acquire()
	defer s.processLock.Release()
	p, ok := s.processes[id]
	if !ok {
		return nil, fmt.Errorf("%w: process %d", ErrNoSuchProcess, id)
	}
	p.header.AddReference()
	return p, nil
}

// ProcessCount returns the number of processes on the global list.
func (s *System) ProcessCount() int {
	s.processLock.Acquire()
	defer s.processLock.Release()
	return len(s.processes)
}

// ProcessIDs snapshots the global list's ids.
func (s *System) ProcessIDs() []ProcessID {
	s.processLock.Acquire()
	defer s.processLock.Release()
	ids := make([]ProcessID, 0, len(s.processes))
	for id := range s.processes {
		ids = append(ids, id)
	}
	return ids
}

// insertProcess publishes a process on the global list.
func (s *System) insertProcess(p *Process) {
	s.processLock.Acquire()
	s.processes[p.ID] = p
	s.processLock.Release()
}

// removeProcess takes a process off the global list. Idempotent: the
// termination path and the reaping parent can race here.
func (s *System) removeProcess(p *Process) {
	s.processLock.Acquire()
	if current, ok := s.processes[p.ID]; ok && current == p {
		delete(s.processes, p.ID)
	}
	s.processLock.Release()
}
