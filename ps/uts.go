package ps

import (
	"fmt"
	"sync/atomic"

	"github.com/minoca/chalkos/ke"
)

// HostNameMax bounds hostname and domain-name lengths.
const HostNameMax = 80

// UtsRealm is a shareable naming realm: a hostname and domain name
// jointly visible to every process attached to it. The root realm
// belongs to the system and is never freed.
type UtsRealm struct {
	refs       atomic.Int64
	lock       *ke.QueuedLock
	hostname   string
	domainName string
}

// NewUtsRealm creates a realm with one reference.
func NewUtsRealm(hostname, domainName string) *UtsRealm {
	realm := &UtsRealm{
		lock:       ke.NewQueuedLock(),
		hostname:   hostname,
		domainName: domainName,
	}
	realm.refs.Store(1)
	return realm
}

// AddReference retains the realm.
func (r *UtsRealm) AddReference() {
	r.refs.Add(1)
}

// ReleaseReference drops a reference. Realms hold no resources beyond
// their strings, so nothing happens at zero; the count exists so
// processes can share realms across fork.
func (r *UtsRealm) ReleaseReference() {
	if r.refs.Add(-1) < 0 {
		panic("ps: over-release of UTS realm")
	}
}

// Names returns the hostname and domain name.
func (r *UtsRealm) Names() (string, string) {
	r.lock.Acquire()
	defer r.lock.Release()
	return r.hostname, r.domainName
}

// SetNames updates the realm. Requires administrator permission.
func (r *UtsRealm) SetNames(identity Identity, hostname, domainName string) error {
	if !identity.IsAdmin() {
		return fmt.Errorf("%w: UTS names require admin", ErrPermissionDenied)
	}
	if len(hostname) > HostNameMax || len(domainName) > HostNameMax {
		return fmt.Errorf("%w: UTS name too long", ErrInvalidArgument)
	}
	r.lock.Acquire()
	defer r.lock.Release()
	r.hostname = hostname
	r.domainName = domainName
	return nil
}
