package ps

import "fmt"

// ProcessGroup is a set of processes jointly addressable by signal,
// identified by its leader's process id. All fields are guarded by the
// system group lock.
type ProcessGroup struct {
	ID        ProcessID
	sessionID ProcessID
	members   map[ProcessID]*Process

	// outsideParents counts members whose parent lives in the same
	// session but a different group. The group is orphaned when it
	// reaches zero.
	outsideParents int
}

func newProcessGroup(id, session ProcessID) *ProcessGroup {
	return &ProcessGroup{ID: id, sessionID: session, members: make(map[ProcessID]*Process)}
}

// LookupGroup finds a group by id.
func (s *System) LookupGroup(id ProcessID) (*ProcessGroup, bool) {
	s.groupLock.Acquire()
	defer s.groupLock.Release()
	g, ok := s.groups[id]
	return g, ok
}

// GroupOutsideParents returns a group's outside-parent count, the
// orphan criterion.
func (s *System) GroupOutsideParents(id ProcessID) (int, error) {
	s.groupLock.Acquire()
	defer s.groupLock.Release()
	g, ok := s.groups[id]
	if !ok {
		return 0, fmt.Errorf("%w: group %d", ErrNoSuchProcess, id)
	}
	return g.outsideParents, nil
}

// memberHasOutsideParentLocked reports whether p counts toward its
// group's outside-parent total. Caller holds the group lock.
func memberHasOutsideParentLocked(p *Process, g *ProcessGroup) bool {
	p.lock.Acquire()
	parent := p.parent
	p.lock.Release()
	if parent == nil {
		return false
	}
	return parent.sessionID == g.sessionID && parent.group != g
}

// dropOutsideParentLocked decrements a group's outside-parent count
// and, on the transition to orphaned, broadcasts close-controlling-
// terminal then continue if any member is stopped. Caller holds the
// group lock.
func (s *System) dropOutsideParentLocked(g *ProcessGroup) {
	g.outsideParents--
	if g.outsideParents != 0 || len(g.members) == 0 {
		return
	}
	anyStopped := false
	for _, m := range g.members {
		m.lock.Acquire()
		stopped := m.stopped
		m.lock.Release()
		if stopped {
			anyStopped = true
			break
		}
	}
	if !anyStopped {
		return
	}
	s.log.Debugf("group %d orphaned with stopped members", g.ID)
	for _, m := range g.members {
		m.queueSignal(SignalHangup, SignalParameters{SignalNumber: uint32(SignalHangup)})
	}
	for _, m := range g.members {
		m.queueSignal(SignalContinue, SignalParameters{SignalNumber: uint32(SignalContinue)})
	}
}

// addMemberLocked puts p into g and updates the counter. Caller holds
// the group lock.
func (s *System) addMemberLocked(p *Process, g *ProcessGroup) {
	g.members[p.ID] = p
	p.group = g
	p.groupID = g.ID
	p.sessionID = g.sessionID
	if memberHasOutsideParentLocked(p, g) {
		g.outsideParents++
	}
}

// removeMemberLocked takes p out of g, updating the counter and
// reclaiming an emptied group. Caller holds the group lock.
func (s *System) removeMemberLocked(p *Process, g *ProcessGroup) {
	counted := memberHasOutsideParentLocked(p, g)
	delete(g.members, p.ID)
	p.group = nil
	if counted {
		s.dropOutsideParentLocked(g)
	}
	if len(g.members) == 0 {
		delete(s.groups, g.ID)
	}
}

// adjustChildCountersLocked fixes the children's group counters after
// their parent p moved from oldGroup to newGroup within one session.
// Caller holds the group lock.
func (s *System) adjustChildCountersLocked(p *Process, oldGroup, newGroup *ProcessGroup) {
	p.lock.Acquire()
	children := make([]*Process, 0, len(p.children))
	for _, child := range p.children {
		children = append(children, child)
	}
	p.lock.Release()
	for _, child := range children {
		g := child.group
		if g == nil || child.sessionID != p.sessionID {
			continue
		}
		was := g != oldGroup
		now := g != newGroup
		if was && !now {
			s.dropOutsideParentLocked(g)
		} else if !was && now {
			g.outsideParents++
		}
	}
}

// joinInitialGroup attaches a freshly created process to a group: the
// parent's group, or a brand-new group and session for the first
// process.
func (s *System) joinInitialGroup(p *Process, parent *Process) {
	s.groupLock.Acquire()
	defer s.groupLock.Release()
	if parent == nil || parent.group == nil {
		g := newProcessGroup(p.ID, p.ID)
		s.groups[p.ID] = g
		p.sessionLeader = true
		s.addMemberLocked(p, g)
		return
	}
	s.addMemberLocked(p, parent.group)
}

// JoinProcessGroup moves p into the group identified by groupID,
// creating the group when groupID is p's own id. Session leaders may
// not move; crossing sessions is forbidden; a group whose leader
// already exited is too late to join.
func (s *System) JoinProcessGroup(p *Process, groupID ProcessID) error {
	s.groupLock.Acquire()
	defer s.groupLock.Release()
	if p.sessionLeader {
		return fmt.Errorf("%w: session leader cannot change group", ErrPermissionDenied)
	}
	p.lock.Acquire()
	exiting := p.state != ProcessStateRunning
	p.lock.Release()
	if exiting {
		return fmt.Errorf("%w: process %d is exiting", ErrTooLate, p.ID)
	}
	oldGroup := p.group
	if oldGroup != nil && oldGroup.ID == groupID {
		return nil
	}
	target, ok := s.groups[groupID]
	switch {
	case ok:
		if target.sessionID != p.sessionID {
			return fmt.Errorf("%w: group %d is in another session", ErrPermissionDenied, groupID)
		}
	case groupID == p.ID:
		target = newProcessGroup(p.ID, p.sessionID)
		s.groups[p.ID] = target
	default:
		return fmt.Errorf("%w: group %d no longer exists", ErrTooLate, groupID)
	}
	if oldGroup != nil {
		s.removeMemberLocked(p, oldGroup)
	}
	s.addMemberLocked(p, target)
	s.adjustChildCountersLocked(p, oldGroup, target)
	return nil
}

// CreateSession makes p the leader of a new session and group, both
// identified by its own id. The controlling terminal is cleared.
func (s *System) CreateSession(p *Process) (ProcessID, error) {
	s.groupLock.Acquire()
	defer s.groupLock.Release()
	if p.sessionLeader {
		return 0, fmt.Errorf("%w: already a session leader", ErrPermissionDenied)
	}
	if existing, ok := s.groups[p.ID]; ok && existing != p.group {
		return 0, fmt.Errorf("%w: group %d already exists", ErrPermissionDenied, p.ID)
	}
	if p.group != nil && p.group.ID == p.ID {
		return 0, fmt.Errorf("%w: group leader cannot start a session", ErrPermissionDenied)
	}
	oldGroup := p.group
	if oldGroup != nil {
		s.removeMemberLocked(p, oldGroup)
	}
	g := newProcessGroup(p.ID, p.ID)
	s.groups[p.ID] = g
	p.sessionLeader = true
	p.sessionID = p.ID
	s.addMemberLocked(p, g)
	s.adjustChildCountersLocked(p, oldGroup, g)
	p.lock.Acquire()
	p.terminal = nil
	p.lock.Release()
	return p.ID, nil
}

// leaveProcessGroup runs on process termination: the children's groups
// each lose an outside parent, then p leaves its own group.
func (s *System) leaveProcessGroup(p *Process) {
	s.groupLock.Acquire()
	defer s.groupLock.Release()
	g := p.group
	if g == nil {
		return
	}
	p.lock.Acquire()
	children := make([]*Process, 0, len(p.children))
	for _, child := range p.children {
		children = append(children, child)
	}
	p.lock.Release()
	for _, child := range children {
		childGroup := child.group
		if childGroup == nil || child.sessionID != p.sessionID || childGroup == g {
			continue
		}
		s.dropOutsideParentLocked(childGroup)
	}
	s.removeMemberLocked(p, g)
}

// SignalProcessGroup delivers a signal to every member of a group.
func (s *System) SignalProcessGroup(groupID ProcessID, signal Signal, params SignalParameters) error {
	s.groupLock.Acquire()
	defer s.groupLock.Release()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: group %d", ErrNoSuchProcess, groupID)
	}
	for _, m := range g.members {
		m.queueSignal(signal, params)
	}
	return nil
}
