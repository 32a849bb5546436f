// Package ob is the object manager: reference-counted object headers
// organized into named directories, with destroy callbacks run when the
// last reference goes away.
package ob

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Header is embedded at the top of every managed object. The zero value
// is not usable; call Init first.
type Header struct {
	name     string
	refs     atomic.Int64
	parent   *Directory
	destroy  func()
	released atomic.Bool
}

// Init sets up a header with one reference. The destroy callback runs
// exactly once, on the goroutine that drops the final reference. A nil
// parent leaves the object outside the directory tree.
func (h *Header) Init(name string, parent *Directory, destroy func()) error {
	h.name = name
	h.parent = parent
	h.destroy = destroy
	h.refs.Store(1)
	if parent != nil {
		if err := parent.insert(name, h); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the object's directory name.
func (h *Header) Name() string {
	return h.name
}

// ReferenceCount returns the current count.
func (h *Header) ReferenceCount() int64 {
	return h.refs.Load()
}

// AddReference takes a reference. Taking a reference on an object whose
// count already hit zero is a lifetime bug and panics.
func (h *Header) AddReference() {
	if h.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("ob: reference to destroyed object %q", h.name))
	}
}

// tryAddReference takes a reference only if the object is still alive.
func (h *Header) tryAddReference() bool {
	for {
		current := h.refs.Load()
		if current <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// ReleaseReference drops a reference. On the final release the object
// is removed from its parent directory and its destroy callback runs.
func (h *Header) ReleaseReference() {
	remaining := h.refs.Add(-1)
	if remaining > 0 {
		return
	}
	if remaining < 0 {
		panic(fmt.Sprintf("ob: over-release of object %q", h.name))
	}
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.parent != nil {
		h.parent.remove(h.name, h)
		h.parent = nil
	}
	if h.destroy != nil {
		h.destroy()
	}
}

// Directory is a flat namespace of named objects. Insertions hold a
// reference on behalf of the directory; the reference drops when the
// entry is removed or when the owning object destroys itself.
type Directory struct {
	mu      sync.RWMutex
	name    string
	entries map[string]*Header
}

// NewDirectory creates an empty directory.
func NewDirectory(name string) *Directory {
	return &Directory{name: name, entries: make(map[string]*Header)}
}

// Name returns the directory's name.
func (d *Directory) Name() string {
	return d.name
}

func (d *Directory) insert(name string, h *Header) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[name]; exists {
		return fmt.Errorf("ob: %s/%s already exists", d.name, name)
	}
	d.entries[name] = h
	return nil
}

// remove drops the named entry if it still maps to h.
func (d *Directory) remove(name string, h *Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.entries[name]; ok && current == h {
		delete(d.entries, name)
	}
}

// Lookup finds an object by name and returns it with an added
// reference, or nil. An object racing to destruction misses.
func (d *Directory) Lookup(name string) *Header {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.entries[name]
	if !ok || !h.tryAddReference() {
		return nil
	}
	return h
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Names returns the entry names, unordered.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	return names
}
