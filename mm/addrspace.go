// Package mm simulates user address spaces as sparse sets of mapped
// regions backed by byte slices. The process subsystem uses it for user
// stacks, signal-context staging, and debugger memory access.
package mm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrAccessViolation reports a copy touching an unmapped address. The
// process subsystem converts it into an access-violation signal on the
// faulting thread.
var ErrAccessViolation = errors.New("access violation")

// ErrInvalidMapping reports an overlapping or zero-length map request.
var ErrInvalidMapping = errors.New("invalid mapping")

// UserStackTop is the highest address user stacks grow down from.
const UserStackTop = 0x0000_7fff_ffff_0000

// DefaultStackSize is used when no stack resource limit applies.
const DefaultStackSize = 1 << 20

type region struct {
	base uint64
	data []byte
}

func (r *region) end() uint64 {
	return r.base + uint64(len(r.data))
}

// AddressSpace is one simulated user address space. All methods are
// safe for concurrent use; debuggers peek while the owner runs.
type AddressSpace struct {
	mu      sync.RWMutex
	regions []*region // sorted by base, non-overlapping
}

// NewAddressSpace creates an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{}
}

// Map adds a zero-filled region. Overlaps with existing regions fail.
func (a *AddressSpace) Map(base, size uint64) error {
	if size == 0 {
		return fmt.Errorf("%w: zero-length map at %#x", ErrInvalidMapping, base)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.regions {
		if base < r.end() && r.base < base+size {
			return fmt.Errorf("%w: [%#x, %#x) overlaps [%#x, %#x)",
				ErrInvalidMapping, base, base+size, r.base, r.end())
		}
	}
	a.regions = append(a.regions, &region{base: base, data: make([]byte, size)})
	sort.Slice(a.regions, func(i, j int) bool {
		return a.regions[i].base < a.regions[j].base
	})
	return nil
}

// Unmap removes the region starting at base.
func (a *AddressSpace) Unmap(base uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, r := range a.regions {
		if r.base == base {
			a.regions = append(a.regions[:i], a.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: no region at %#x", ErrInvalidMapping, base)
}

// Reset drops every mapping. Exec uses this to tear down the old image.
func (a *AddressSpace) Reset() {
	a.mu.Lock()
	a.regions = nil
	a.mu.Unlock()
}

// Clone produces an eager copy of every region, the fork semantic.
func (a *AddressSpace) Clone() *AddressSpace {
	a.mu.RLock()
	defer a.mu.RUnlock()
	clone := &AddressSpace{regions: make([]*region, len(a.regions))}
	for i, r := range a.regions {
		data := make([]byte, len(r.data))
		copy(data, r.data)
		clone.regions[i] = &region{base: r.base, data: data}
	}
	return clone
}

// MapUserStack reserves a stack-sized region below the stack ceiling,
// walking down until a free slot is found. The size is capped by limit
// when limit is non-zero. Returns the stack base (lowest address).
func (a *AddressSpace) MapUserStack(size, limit uint64) (uint64, error) {
	if size == 0 {
		size = DefaultStackSize
	}
	if limit != 0 && size > limit {
		size = limit
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	base := uint64(UserStackTop) - size
	for attempt := 0; attempt < 64; attempt++ {
		conflict := false
		for _, r := range a.regions {
			if base < r.end() && r.base < base+size {
				conflict = true
				if r.base < size {
					return 0, fmt.Errorf("%w: no room for %d-byte stack",
						ErrInvalidMapping, size)
				}
				base = r.base - size
				break
			}
		}
		if !conflict {
			a.regions = append(a.regions, &region{base: base, data: make([]byte, size)})
			sort.Slice(a.regions, func(i, j int) bool {
				return a.regions[i].base < a.regions[j].base
			})
			return base, nil
		}
	}
	return 0, fmt.Errorf("%w: no room for %d-byte stack", ErrInvalidMapping, size)
}

// find returns the region containing [addr, addr+size), or nil.
func (a *AddressSpace) find(addr, size uint64) *region {
	for _, r := range a.regions {
		if addr >= r.base && addr+size <= r.end() {
			return r
		}
	}
	return nil
}

// CopyOut writes kernel bytes into user memory.
func (a *AddressSpace) CopyOut(addr uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.find(addr, uint64(len(data)))
	if r == nil {
		return fmt.Errorf("%w: write of %d bytes at %#x",
			ErrAccessViolation, len(data), addr)
	}
	copy(r.data[addr-r.base:], data)
	return nil
}

// CopyIn reads user memory into a kernel buffer.
func (a *AddressSpace) CopyIn(addr uint64, buf []byte) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r := a.find(addr, uint64(len(buf)))
	if r == nil {
		return fmt.Errorf("%w: read of %d bytes at %#x",
			ErrAccessViolation, len(buf), addr)
	}
	copy(buf, r.data[addr-r.base:])
	return nil
}

// Mapped reports whether the whole range is backed.
func (a *AddressSpace) Mapped(addr, size uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.find(addr, size) != nil
}

// Size returns the total mapped byte count.
func (a *AddressSpace) Size() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var total uint64
	for _, r := range a.regions {
		total += uint64(len(r.data))
	}
	return total
}
