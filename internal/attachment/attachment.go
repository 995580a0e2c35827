// Package attachment tracks in-flight volume attach/detach transitions
// that libvirt itself doesn't model: AWS clients expect attaching/
// attached/detaching/detached states with a brief "settling" window, so
// this package layers that state machine over libvirt's binary
// attached-or-not view, exactly the way the original implementation's
// _known_attachments dict plus asyncio.call_later does.
package attachment

import (
	"sync"
	"time"
)

// Status is a volume attachment's lifecycle state.
type Status string

const (
	Attaching Status = "attaching"
	Attached  Status = "attached"
	Detaching Status = "detaching"
	Detached  Status = "detached"
)

// settleDelay is the "3 seconds" window spec.md §4.6 schedules the
// attaching→attached and detaching→detached transitions after.
const settleDelay = 3 * time.Second

type key struct {
	VolumeID   string
	InstanceID string
}

type entry struct {
	Device string
	Status Status
}

// Tracker is the shared (volume_id, instance_id) -> (device, status) map.
// It is not persisted: a restart starts empty and libvirt's own reported
// attachment state is authoritative for "is this attached at all" until a
// fresh attach/detach repopulates the settle window (see DESIGN.md's Open
// Question 6 resolution).
type Tracker struct {
	mu      sync.Mutex
	entries map[key]entry
	// afterFunc is replaced in tests to avoid real sleeps.
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries:   make(map[key]entry),
		afterFunc: time.AfterFunc,
	}
}

// Attach records a new attachment in the Attaching state, scheduling its
// transition to Attached after the settle delay.
func (t *Tracker) Attach(volumeID, instanceID, device string) {
	k := key{volumeID, instanceID}
	t.mu.Lock()
	t.entries[k] = entry{Device: device, Status: Attaching}
	t.mu.Unlock()

	t.afterFunc(settleDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if e, ok := t.entries[k]; ok && e.Status == Attaching {
			e.Status = Attached
			t.entries[k] = e
		}
	})
}

// Detach transitions an existing attachment to Detaching, scheduling its
// transition to Detached after the settle delay. If no entry exists (e.g.
// after a restart), one is created so DescribeVolumes still sees the
// transient state.
func (t *Tracker) Detach(volumeID, instanceID string) {
	k := key{volumeID, instanceID}
	t.mu.Lock()
	device := t.entries[k].Device
	t.entries[k] = entry{Device: device, Status: Detaching}
	t.mu.Unlock()

	t.afterFunc(settleDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if e, ok := t.entries[k]; ok && e.Status == Detaching {
			e.Status = Detached
			t.entries[k] = e
		}
	})
}

// Lookup returns the tracked status of a (volume, instance) pair, if any.
func (t *Tracker) Lookup(volumeID, instanceID string) (device string, status Status, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, found := t.entries[key{volumeID, instanceID}]
	if !found {
		return "", "", false
	}
	return e.Device, e.Status, true
}

// InUse reports whether a volume has any attachment that is not yet
// Detached, the rule DescribeVolumes uses to merge tracker state with
// libvirt's reported attachments (spec.md §4.6: "a volume is in-use
// unless every recorded attachment is detached").
func (t *Tracker) InUse(volumeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if k.VolumeID == volumeID && e.Status != Detached {
			return true
		}
	}
	return false
}

// Forget removes a fully-settled detached entry, called once a caller has
// observed the Detached status and no longer needs the transient record.
func (t *Tracker) Forget(volumeID, instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key{volumeID, instanceID})
}
