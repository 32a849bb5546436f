package ps

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Information-query structure versions. Callers built against a newer
// layout than the subsystem knows are rejected.
const (
	ProcessInformationVersion uint32 = 1
	ThreadInformationVersion  uint32 = 1
)

var infoEncMode cbor.EncMode

func init() {
	var err error
	infoEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// ProcessInformation is the canonical snapshot a process query fills.
type ProcessInformation struct {
	Version     uint32 `cbor:"1,keyasint"`
	ProcessID   int64  `cbor:"2,keyasint"`
	ParentID    int64  `cbor:"3,keyasint"`
	GroupID     int64  `cbor:"4,keyasint"`
	SessionID   int64  `cbor:"5,keyasint"`
	BinaryName  string `cbor:"6,keyasint"`
	ThreadCount int    `cbor:"7,keyasint"`
	Stopped     bool   `cbor:"8,keyasint"`
	ExitReason  int    `cbor:"9,keyasint"`
	ExitStatus  int    `cbor:"10,keyasint"`
	UserTimeNS  int64  `cbor:"11,keyasint"`
	KernTimeNS  int64  `cbor:"12,keyasint"`
}

// ThreadInformation is the canonical snapshot a thread query fills.
type ThreadInformation struct {
	Version    uint32 `cbor:"1,keyasint"`
	ThreadID   int64  `cbor:"2,keyasint"`
	ProcessID  int64  `cbor:"3,keyasint"`
	State      int    `cbor:"4,keyasint"`
	Blocked    uint64 `cbor:"5,keyasint"`
	UserTimeNS int64  `cbor:"6,keyasint"`
	KernTimeNS int64  `cbor:"7,keyasint"`
}

func (p *Process) snapshot() ProcessInformation {
	p.lock.Acquire()
	info := ProcessInformation{
		Version:     ProcessInformationVersion,
		ProcessID:   int64(p.ID),
		ParentID:    int64(p.reportedParentID),
		BinaryName:  p.binaryName,
		ThreadCount: p.threadCount,
		Stopped:     p.stopped,
		ExitReason:  int(p.exit.Reason),
		ExitStatus:  p.exit.Status,
		UserTimeNS:  int64(p.usage.UserTime),
		KernTimeNS:  int64(p.usage.KernelTime),
	}
	p.lock.Release()
	p.sys.groupLock.Acquire()
	info.GroupID = int64(p.groupID)
	info.SessionID = int64(p.sessionID)
	p.sys.groupLock.Release()
	return info
}

// fillBuffer applies the staged-copy contract: the required size is
// always reported, and a short buffer yields ErrBufferTooSmall so the
// caller can retry.
func fillBuffer(buf []byte, data []byte) (int, error) {
	if len(buf) < len(data) {
		return len(data), ErrBufferTooSmall
	}
	copy(buf, data)
	return len(data), nil
}

// GetProcessInformation encodes one process's snapshot into buf and
// returns the encoded size.
func (s *System) GetProcessInformation(id ProcessID, version uint32, buf []byte) (int, error) {
	if version > ProcessInformationVersion {
		return 0, fmt.Errorf("%w: process information v%d", ErrVersionMismatch, version)
	}
	p, err := s.LookupProcess(id)
	if err != nil {
		return 0, err
	}
	defer p.ReleaseReference()
	data, err := infoEncMode.Marshal(p.snapshot())
	if err != nil {
		return 0, err
	}
	return fillBuffer(buf, data)
}

// GetAllProcessInformation encodes every process's snapshot, ordered by
// id, into buf.
func (s *System) GetAllProcessInformation(version uint32, buf []byte) (int, error) {
	if version > ProcessInformationVersion {
		return 0, fmt.Errorf("%w: process information v%d", ErrVersionMismatch, version)
	}
	s.processLock.Acquire()
	processes := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		processes = append(processes, p)
	}
	s.processLock.Release()
	sort.Slice(processes, func(i, j int) bool { return processes[i].ID < processes[j].ID })
	snapshots := make([]ProcessInformation, len(processes))
	for i, p := range processes {
		snapshots[i] = p.snapshot()
	}
	data, err := infoEncMode.Marshal(snapshots)
	if err != nil {
		return 0, err
	}
	return fillBuffer(buf, data)
}

// DecodeProcessInformation unpacks one snapshot.
func DecodeProcessInformation(data []byte) (ProcessInformation, error) {
	var info ProcessInformation
	err := cbor.Unmarshal(data, &info)
	return info, err
}

// DecodeProcessInformationList unpacks an all-processes snapshot.
func DecodeProcessInformationList(data []byte) ([]ProcessInformation, error) {
	var list []ProcessInformation
	err := cbor.Unmarshal(data, &list)
	return list, err
}

// GetProcessIdentity returns a process's credential block.
func (s *System) GetProcessIdentity(id ProcessID) (Identity, error) {
	p, err := s.LookupProcess(id)
	if err != nil {
		return Identity{}, err
	}
	defer p.ReleaseReference()
	return p.Identity(), nil
}

// GetThreadList encodes the thread ids of a process, ordered, into buf.
func (s *System) GetThreadList(id ProcessID, buf []byte) (int, error) {
	p, err := s.LookupProcess(id)
	if err != nil {
		return 0, err
	}
	defer p.ReleaseReference()
	p.lock.Acquire()
	ids := make([]int64, 0, len(p.threads))
	for _, t := range p.threads {
		ids = append(ids, int64(t.ID))
	}
	p.lock.Release()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	data, err := infoEncMode.Marshal(ids)
	if err != nil {
		return 0, err
	}
	return fillBuffer(buf, data)
}

// DecodeThreadList unpacks a thread-list snapshot.
func DecodeThreadList(data []byte) ([]ThreadID, error) {
	var raw []int64
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	ids := make([]ThreadID, len(raw))
	for i, id := range raw {
		ids[i] = ThreadID(id)
	}
	return ids, nil
}

// GetThreadInformation encodes one thread's snapshot into buf.
func (s *System) GetThreadInformation(id ProcessID, threadID ThreadID, version uint32, buf []byte) (int, error) {
	if version > ThreadInformationVersion {
		return 0, fmt.Errorf("%w: thread information v%d", ErrVersionMismatch, version)
	}
	p, err := s.LookupProcess(id)
	if err != nil {
		return 0, err
	}
	defer p.ReleaseReference()
	p.lock.Acquire()
	var target *Thread
	for _, t := range p.threads {
		if t.ID == threadID {
			target = t
			break
		}
	}
	p.lock.Release()
	if target == nil {
		return 0, fmt.Errorf("%w: thread %d", ErrNoSuchThread, threadID)
	}
	info := ThreadInformation{
		Version:    ThreadInformationVersion,
		ThreadID:   int64(target.ID),
		ProcessID:  int64(p.ID),
		State:      int(target.state),
		Blocked:    uint64(target.blockedSignals),
		UserTimeNS: int64(target.usage.UserTime),
		KernTimeNS: int64(target.usage.KernelTime),
	}
	data, err := infoEncMode.Marshal(info)
	if err != nil {
		return 0, err
	}
	return fillBuffer(buf, data)
}

// DecodeThreadInformation unpacks one thread snapshot.
func DecodeThreadInformation(data []byte) (ThreadInformation, error) {
	var info ThreadInformation
	err := cbor.Unmarshal(data, &info)
	return info, err
}

// UtsKind selects which realm name GetSetUts touches.
type UtsKind int

const (
	UtsHostName UtsKind = iota
	UtsDomainName
)

// GetSetUts reads or writes one of the process's realm names. Writes
// require administrator permission and preserve the other name.
func (p *Process) GetSetUts(kind UtsKind, set bool, value string) (string, error) {
	realm := p.realm
	if realm == nil {
		return "", fmt.Errorf("%w: process %d has no realm", ErrNotFound, p.ID)
	}
	hostname, domain := realm.Names()
	if !set {
		switch kind {
		case UtsHostName:
			return hostname, nil
		case UtsDomainName:
			return domain, nil
		}
		return "", fmt.Errorf("%w: UTS kind %d", ErrInvalidArgument, kind)
	}
	switch kind {
	case UtsHostName:
		hostname = value
	case UtsDomainName:
		domain = value
	default:
		return "", fmt.Errorf("%w: UTS kind %d", ErrInvalidArgument, kind)
	}
	if err := realm.SetNames(p.Identity(), hostname, domain); err != nil {
		return "", err
	}
	return value, nil
}
