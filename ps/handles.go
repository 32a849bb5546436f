package ps

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// PathPoint is a reference-counted resolved path shared across fork.
// The filesystem behind it is out of scope; only the identity and the
// reference discipline matter here.
type PathPoint struct {
	Path string
	refs atomic.Int64
}

// NewPathPoint creates a path point with one reference.
func NewPathPoint(path string) *PathPoint {
	p := &PathPoint{Path: path}
	p.refs.Store(1)
	return p
}

// AddReference retains the path point. Nil-safe.
func (p *PathPoint) AddReference() *PathPoint {
	if p != nil {
		p.refs.Add(1)
	}
	return p
}

// ReleaseReference drops a reference. Nil-safe.
func (p *PathPoint) ReleaseReference() {
	if p == nil {
		return
	}
	if p.refs.Add(-1) < 0 {
		panic("ps: over-release of path point")
	}
}

// ReferenceCount returns the current count.
func (p *PathPoint) ReferenceCount() int64 {
	if p == nil {
		return 0
	}
	return p.refs.Load()
}

// Terminal is a controlling terminal stub: it records which session
// owns it so session-leader exit can disassociate it.
type Terminal struct {
	mu      sync.Mutex
	session ProcessID
}

// Associate binds the terminal to a session. Fails if another session
// already owns it.
func (t *Terminal) Associate(session ProcessID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != 0 && t.session != session {
		return fmt.Errorf("%w: terminal owned by session %d", ErrPermissionDenied, t.session)
	}
	t.session = session
	return nil
}

// Disassociate releases the terminal if the session owns it.
func (t *Terminal) Disassociate(session ProcessID) {
	t.mu.Lock()
	if t.session == session {
		t.session = 0
	}
	t.mu.Unlock()
}

// Session returns the owning session id, zero if unowned.
func (t *Terminal) Session() ProcessID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Handle is one handle-table slot. Object identity is opaque to the
// process subsystem; Close runs when the slot is released.
type Handle struct {
	Object      any
	CloseOnExec bool
	Close       func()
}

// HandleTable maps small integers to handles. Tables are copied on
// fork and filtered on exec.
type HandleTable struct {
	mu      sync.Mutex
	entries map[int]*Handle
	next    int
}

// NewHandleTable creates an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{entries: make(map[int]*Handle)}
}

// Insert places a handle at the lowest free slot and returns it.
func (t *HandleTable) Insert(h *Handle) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if _, used := t.entries[t.next]; !used {
			break
		}
		t.next++
	}
	slot := t.next
	t.entries[slot] = h
	t.next++
	return slot
}

// Lookup returns the handle at a slot.
func (t *HandleTable) Lookup(slot int) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[slot]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrNotFound, slot)
	}
	return h, nil
}

// CloseHandle releases one slot.
func (t *HandleTable) CloseHandle(slot int) error {
	t.mu.Lock()
	h, ok := t.entries[slot]
	if ok {
		delete(t.entries, slot)
		if slot < t.next {
			t.next = slot
		}
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrNotFound, slot)
	}
	if h.Close != nil {
		h.Close()
	}
	return nil
}

// CloseExecHandles drops every close-on-exec slot.
func (t *HandleTable) CloseExecHandles() {
	t.mu.Lock()
	var closers []func()
	for slot, h := range t.entries {
		if h.CloseOnExec {
			delete(t.entries, slot)
			if slot < t.next {
				t.next = slot
			}
			if h.Close != nil {
				closers = append(closers, h.Close)
			}
		}
	}
	t.mu.Unlock()
	for _, close := range closers {
		close()
	}
}

// CloseAll drops every slot.
func (t *HandleTable) CloseAll() {
	t.mu.Lock()
	var closers []func()
	for _, h := range t.entries {
		if h.Close != nil {
			closers = append(closers, h.Close)
		}
	}
	t.entries = make(map[int]*Handle)
	t.next = 0
	t.mu.Unlock()
	for _, close := range closers {
		close()
	}
}

// Count returns the number of open slots.
func (t *HandleTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// clone duplicates the table for fork. Close callbacks are shared; the
// objects behind them are reference-counted by their owners.
func (t *HandleTable) clone() *HandleTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	copyTable := &HandleTable{entries: make(map[int]*Handle, len(t.entries)), next: t.next}
	for slot, h := range t.entries {
		duplicate := *h
		copyTable.entries[slot] = &duplicate
	}
	return copyTable
}
