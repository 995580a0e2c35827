package attachment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fireImmediately replaces Tracker.afterFunc so settle-timer tests don't
// need to sleep 3 real seconds; it runs fn synchronously and returns a nil
// timer (never referenced by the tracker).
func fireImmediately(_ time.Duration, fn func()) *time.Timer {
	fn()
	return nil
}

func TestAttachSettlesToAttached(t *testing.T) {
	tr := NewTracker()
	tr.afterFunc = fireImmediately

	tr.Attach("vol-1", "i-1", "vdb")
	device, status, ok := tr.Lookup("vol-1", "i-1")
	require.True(t, ok)
	require.Equal(t, "vdb", device)
	require.Equal(t, Attached, status)
}

func TestDetachSettlesToDetached(t *testing.T) {
	tr := NewTracker()
	tr.afterFunc = fireImmediately

	tr.Attach("vol-1", "i-1", "vdb")
	tr.Detach("vol-1", "i-1")
	_, status, ok := tr.Lookup("vol-1", "i-1")
	require.True(t, ok)
	require.Equal(t, Detached, status)
}

func TestInUseIgnoresDetached(t *testing.T) {
	tr := NewTracker()
	tr.afterFunc = fireImmediately

	tr.Attach("vol-1", "i-1", "vdb")
	require.True(t, tr.InUse("vol-1"))

	tr.Detach("vol-1", "i-1")
	require.False(t, tr.InUse("vol-1"))
}

func TestAttachPendingWithoutSettle(t *testing.T) {
	tr := NewTracker()
	var scheduled func()
	tr.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		scheduled = fn
		return nil
	}

	tr.Attach("vol-1", "i-1", "vdb")
	_, status, ok := tr.Lookup("vol-1", "i-1")
	require.True(t, ok)
	require.Equal(t, Attaching, status, "status stays attaching until the settle timer fires")

	scheduled()
	_, status, _ = tr.Lookup("vol-1", "i-1")
	require.Equal(t, Attached, status)
}
