package ps

import (
	"fmt"
	"path"
	"time"

	"github.com/minoca/chalkos/ke"
	"github.com/minoca/chalkos/mm"
	"github.com/minoca/chalkos/ob"
)

// ProcessState tracks a process through its lifetime.
type ProcessState int

const (
	ProcessStateRunning ProcessState = iota
	ProcessStateExiting
	ProcessStateTerminated
)

// ExitReason classifies a child status change.
type ExitReason int

const (
	ExitReasonNone ExitReason = iota
	ExitReasonExited
	ExitReasonKilled
	ExitReasonStopped
	ExitReasonContinued
)

func (r ExitReason) String() string {
	switch r {
	case ExitReasonExited:
		return "exited"
	case ExitReasonKilled:
		return "killed"
	case ExitReasonStopped:
		return "stopped"
	case ExitReasonContinued:
		return "continued"
	}
	return "none"
}

// ExitStatus is the latched (reason, status) pair. Only the first latch
// wins; later callers see their update discarded.
type ExitStatus struct {
	Reason ExitReason
	Status int
}

// ChildEvent is one unreaped child status change, consumed by Wait.
type ChildEvent struct {
	ProcessID ProcessID
	Reason    ExitReason
	Status    int
}

// CreateProcessArgs carries everything process creation needs. Parent
// is nil for the first process.
type CreateProcessArgs struct {
	CommandLine         []string
	Environment         []string
	Parent              *Process
	Identity            Identity
	ControllingTerminal *Terminal
	RootPath            *PathPoint
	WorkingPath         *PathPoint
	SharedMemoryPath    *PathPoint
}

// Process is one process object. The embedded object-manager header
// owns the lifetime; the queued lock guards the mutable fields unless a
// finer lock is named.
type Process struct {
	header ob.Header
	sys    *System
	ID     ProcessID

	lock  *ke.QueuedLock
	state ProcessState

	parent           *Process
	reportedParentID ProcessID
	children         map[ProcessID]*Process
	threads          []*Thread
	threadCount      int
	executedImage    bool

	commandLine []string
	environment []string
	binaryName  string
	identity    Identity
	umask       uint32
	startTime   time.Time

	addressSpace *mm.AddressSpace
	handles      *HandleTable
	realm        *UtsRealm

	// pathLock guards the three path points only.
	pathLock         *ke.QueuedLock
	rootPath         *PathPoint
	workingPath      *PathPoint
	sharedMemoryPath *PathPoint
	terminal         *Terminal

	// Group membership fields are guarded by the system group lock,
	// not the process lock.
	group         *ProcessGroup
	groupID       ProcessID
	sessionID     ProcessID
	sessionLeader bool

	// Signal state, guarded by the process lock.
	handlers       [SignalCount]*SignalHandler
	handledSignals SignalSet
	ignoredSignals SignalSet
	pendingSignals []queuedSignal

	// stopEvent signals while the process is stopped; runGate
	// signals while it may run. Stopped threads park on runGate.
	stopped         bool
	stopEvent       *ke.Event
	runGate         *ke.Event
	allStoppedEvent *ke.Event

	childEvents  []ChildEvent
	childEvent   *ke.Event
	exit         ExitStatus
	exitLatched  bool
	usage        ResourceUsage
	childUsage   ResourceUsage
	debug        *DebugData
	tracees      map[ProcessID]*Process
	handlerEntry HandlerEntry
}

// CreateProcess builds a process and publishes it on the global list
// and the parent's child list. The process has no threads yet; the
// caller creates the first one or clones into it for fork.
func (s *System) CreateProcess(args CreateProcessArgs) (*Process, error) {
	if len(args.CommandLine) == 0 {
		return nil, fmt.Errorf("%w: empty command line", ErrInvalidArgument)
	}
	p := &Process{
		sys:        s,
		ID:         s.allocateProcessID(),
		lock:       ke.NewQueuedLock(),
		pathLock:   ke.NewQueuedLock(),
		children:   make(map[ProcessID]*Process),
		tracees:    make(map[ProcessID]*Process),
		identity:   args.Identity,
		umask:      0o022,
		startTime:  time.Now(),
		handles:    NewHandleTable(),
		terminal:   args.ControllingTerminal,
		stopEvent:  ke.NewEvent(false),
		runGate:    ke.NewEvent(true),
		childEvent: ke.NewEvent(false),
	}
	p.allStoppedEvent = ke.NewEvent(false)
	p.commandLine = append([]string(nil), args.CommandLine...)
	if args.Environment != nil {
		p.environment = append([]string(nil), args.Environment...)
	} else {
		p.environment = []string{}
	}
	p.binaryName = path.Base(args.CommandLine[0])
	p.addressSpace = mm.NewAddressSpace()
	p.rootPath = args.RootPath.AddReference()
	p.workingPath = args.WorkingPath.AddReference()
	p.sharedMemoryPath = args.SharedMemoryPath.AddReference()
	p.ignoredSignals = 0

	if err := p.header.Init(fmt.Sprintf("%d", p.ID), s.directory, p.destroy); err != nil {
		p.releasePaths()
		return nil, err
	}
	if args.Parent != nil {
		p.parent = args.Parent
		p.reportedParentID = args.Parent.ID
		p.realm = args.Parent.realm
		p.realm.AddReference()
		p.umask = args.Parent.umask
	} else {
		p.reportedParentID = 0
		p.realm = s.rootRealm
		p.realm.AddReference()
	}

	s.insertProcess(p)
	if args.Parent != nil {
		args.Parent.lock.Acquire()
		args.Parent.children[p.ID] = p
		args.Parent.lock.Release()
	}
	s.joinInitialGroup(p, args.Parent)
	s.log.Debugf("created process %d (%s)", p.ID, p.binaryName)
	return p, nil
}

// destroy is the object-manager callback; the header guarantees it
// runs once, after the last reference drops.
func (p *Process) destroy() {
	p.sys.removeProcess(p)
}

func (p *Process) releasePaths() {
	p.pathLock.Acquire()
	root, working, shm := p.rootPath, p.workingPath, p.sharedMemoryPath
	p.rootPath, p.workingPath, p.sharedMemoryPath = nil, nil, nil
	p.pathLock.Release()
	root.ReleaseReference()
	working.ReleaseReference()
	shm.ReleaseReference()
}

// capturePaths snapshots the path triple with added references, the
// fork-time capture.
func (p *Process) capturePaths() (root, working, shm *PathPoint) {
	p.pathLock.Acquire()
	defer p.pathLock.Release()
	return p.rootPath.AddReference(), p.workingPath.AddReference(), p.sharedMemoryPath.AddReference()
}

// AddReference retains the process object.
func (p *Process) AddReference() {
	p.header.AddReference()
}

// ReleaseReference drops a process reference.
func (p *Process) ReleaseReference() {
	p.header.ReleaseReference()
}

// BinaryName returns the leaf name of the executed image.
func (p *Process) BinaryName() string {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.binaryName
}

// CommandLine returns a copy of the process arguments.
func (p *Process) CommandLine() []string {
	p.lock.Acquire()
	defer p.lock.Release()
	return append([]string(nil), p.commandLine...)
}

// Environment returns a copy of the environment block.
func (p *Process) Environment() []string {
	p.lock.Acquire()
	defer p.lock.Release()
	return append([]string(nil), p.environment...)
}

// Identity returns the credential block.
func (p *Process) Identity() Identity {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.identity
}

// Umask returns the file-creation mask.
func (p *Process) Umask() uint32 {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.umask
}

// AddressSpace returns the process address space.
func (p *Process) AddressSpace() *mm.AddressSpace {
	return p.addressSpace
}

// Handles returns the handle table, nil once terminated.
func (p *Process) Handles() *HandleTable {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.handles
}

// Realm returns the UTS realm the process is attached to.
func (p *Process) Realm() *UtsRealm {
	return p.realm
}

// ReportedParentID returns the parent id Wait-style queries see. It
// becomes AdoptedParentID when the real parent exits first.
func (p *Process) ReportedParentID() ProcessID {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.reportedParentID
}

// GroupID returns the process-group id.
func (p *Process) GroupID() ProcessID {
	p.sys.groupLock.Acquire()
	defer p.sys.groupLock.Release()
	return p.groupID
}

// SessionID returns the session id.
func (p *Process) SessionID() ProcessID {
	p.sys.groupLock.Acquire()
	defer p.sys.groupLock.Release()
	return p.sessionID
}

// State returns the lifecycle state.
func (p *Process) State() ProcessState {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.state
}

// Stopped reports whether the process is job-control stopped.
func (p *Process) Stopped() bool {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.stopped
}

// ThreadCount returns the live thread count.
func (p *Process) ThreadCount() int {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.threadCount
}

// Usage returns the folded totals for the process's own dead threads
// and for its reaped children.
func (p *Process) Usage() (own, children ResourceUsage) {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.usage, p.childUsage
}

// SetExitStatus latches the exit pair; only the first caller wins.
// Returns whether this call did the latching.
func (p *Process) SetExitStatus(reason ExitReason, status int) bool {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.setExitStatusLocked(reason, status)
}

func (p *Process) setExitStatusLocked(reason ExitReason, status int) bool {
	if p.exitLatched {
		return false
	}
	p.exitLatched = true
	p.exit = ExitStatus{Reason: reason, Status: status}
	if p.state == ProcessStateRunning {
		p.state = ProcessStateExiting
	}
	return true
}

// ExitStatus returns the latched pair, valid once Reason is not None.
func (p *Process) ExitStatus() ExitStatus {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.exit
}

// queueChildEvent records a child status change and signals the child
// event for waiters. Runs on the child's termination or stop path.
func (p *Process) queueChildEvent(event ChildEvent) {
	p.lock.Acquire()
	p.childEvents = append(p.childEvents, event)
	p.lock.Release()
	p.childEvent.Signal()
}

// dequeueChildEventLocked pops the oldest child event. Clears the event
// when the queue drains.
func (p *Process) dequeueChildEventLocked() (ChildEvent, bool) {
	if len(p.childEvents) == 0 {
		return ChildEvent{}, false
	}
	event := p.childEvents[0]
	p.childEvents = p.childEvents[1:]
	if len(p.childEvents) == 0 {
		p.childEvent.Unsignal()
	}
	return event, true
}

// reapChild finishes a terminated child after Wait consumed its exit
// event: fold usage, drop it from the child list, the global list, and
// the directory.
func (p *Process) reapChild(child *Process) {
	child.lock.Acquire()
	folded := child.usage
	folded.Accumulate(&child.childUsage)
	child.lock.Release()

	p.lock.Acquire()
	delete(p.children, child.ID)
	p.childUsage.Accumulate(&folded)
	p.lock.Release()

	p.sys.removeProcess(child)
	child.ReleaseReference()
}

// HasChild reports whether the given id is on the child list.
func (p *Process) HasChild(id ProcessID) bool {
	p.lock.Acquire()
	defer p.lock.Release()
	_, ok := p.children[id]
	return ok
}

// terminate runs the full process termination path. Called by the last
// exiting thread after the thread count hits zero.
func (p *Process) terminate() {
	s := p.sys

	p.lock.Acquire()
	if p.state == ProcessStateTerminated {
		p.lock.Release()
		return
	}
	p.state = ProcessStateTerminated
	if !p.exitLatched {
		p.exitLatched = true
		p.exit = ExitStatus{Reason: ExitReasonExited, Status: 0}
	}
	handles := p.handles
	p.handles = nil
	p.pendingSignals = nil
	p.environment = nil
	terminal := p.terminal
	p.terminal = nil
	exit := p.exit
	p.lock.Release()

	if handles != nil {
		handles.CloseAll()
	}
	p.addressSpace.Reset()
	s.groupLock.Acquire()
	leader := p.sessionLeader
	session := p.sessionID
	s.groupLock.Release()
	if leader && terminal != nil {
		terminal.Disassociate(session)
	}

	s.leaveProcessGroup(p)
	p.orphanChildren()
	p.orphanTracees()
	p.detachFromTracer()
	p.releasePaths()
	if p.realm != nil {
		p.realm.ReleaseReference()
		p.realm = nil
	}
	if s.accountant != nil {
		if err := s.accountant.Record(p, exit); err != nil {
			s.log.Errorf("%s", err)
		}
	}

	p.lock.Acquire()
	parent := p.parent
	p.lock.Release()
	s.log.Debugf("process %d terminated: %s status %d", p.ID, exit.Reason, exit.Status)
	if parent != nil {
		parent.queueChildEvent(ChildEvent{ProcessID: p.ID, Reason: exit.Reason, Status: exit.Status})
		parent.queueSignal(SignalChildProcessActivity, SignalParameters{
			SignalNumber:   uint32(SignalChildProcessActivity),
			SendingProcess: int64(p.ID),
			Value:          int64(exit.Status),
		})
		return
	}
	// No parent to notify; the process reaps itself.
	s.removeProcess(p)
	p.ReleaseReference()
}

// orphanChildren nulls each child's parent pointer and points its
// reported parent at the adopt id.
func (p *Process) orphanChildren() {
	p.lock.Acquire()
	children := make([]*Process, 0, len(p.children))
	for _, child := range p.children {
		children = append(children, child)
	}
	p.children = make(map[ProcessID]*Process)
	p.lock.Release()

	for _, child := range children {
		child.lock.Acquire()
		child.parent = nil
		child.reportedParentID = AdoptedParentID
		child.lock.Release()
	}
}
