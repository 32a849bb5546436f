package ps

import "time"

// ResourceUsage accumulates a thread's or process's consumption
// counters. Process objects keep two: their own threads' folded totals
// and the totals inherited from reaped children.
type ResourceUsage struct {
	UserTime     time.Duration
	KernelTime   time.Duration
	PageFaults   uint64
	Preemptions  uint64
	Yields       uint64
	MaxResidentB uint64
}

// Accumulate folds other into u.
func (u *ResourceUsage) Accumulate(other *ResourceUsage) {
	u.UserTime += other.UserTime
	u.KernelTime += other.KernelTime
	u.PageFaults += other.PageFaults
	u.Preemptions += other.Preemptions
	u.Yields += other.Yields
	if other.MaxResidentB > u.MaxResidentB {
		u.MaxResidentB = other.MaxResidentB
	}
}

// ResourceLimitKind selects one row of the limits table.
type ResourceLimitKind int

const (
	ResourceLimitStack ResourceLimitKind = iota
	ResourceLimitData
	ResourceLimitFileCount
	ResourceLimitProcessCount
	ResourceLimitCount
)

// ResourceLimit is a (current, max) pair; the current value may be
// raised up to max by the owner and lowered freely.
type ResourceLimit struct {
	Current uint64
	Max     uint64
}

// ResourceLimits is the per-thread limits table, inherited across fork
// and thread creation.
type ResourceLimits [ResourceLimitCount]ResourceLimit

// defaultResourceLimits seeds new first threads.
func defaultResourceLimits() ResourceLimits {
	var limits ResourceLimits
	limits[ResourceLimitStack] = ResourceLimit{Current: 1 << 20, Max: 8 << 20}
	limits[ResourceLimitData] = ResourceLimit{Current: 1 << 30, Max: 1 << 30}
	limits[ResourceLimitFileCount] = ResourceLimit{Current: 1024, Max: 4096}
	limits[ResourceLimitProcessCount] = ResourceLimit{Current: 512, Max: 2048}
	return limits
}

// Identity is a process's or thread's credential block.
type Identity struct {
	RealUserID       uint32
	EffectiveUserID  uint32
	SavedUserID      uint32
	RealGroupID      uint32
	EffectiveGroupID uint32
	SavedGroupID     uint32
}

// IsAdmin reports whether the identity carries system-administrator
// permission. UTS realm writes require it.
func (id Identity) IsAdmin() bool {
	return id.EffectiveUserID == 0
}
