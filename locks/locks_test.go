package locks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndConflict(t *testing.T) {
	r := NewRegistry()

	l, err := r.Acquire("sess-a", "/redfish/v1/Managers/bmc")
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID)

	_, err = r.Acquire("sess-b", "/redfish/v1/Managers/bmc")
	assert.ErrorIs(t, err, ErrConflict)

	// Re-acquiring our own resource returns the existing grant.
	again, err := r.Acquire("sess-a", "/redfish/v1/Managers/bmc")
	require.NoError(t, err)
	assert.Equal(t, l.ID, again.ID)
}

func TestReleaseLock(t *testing.T) {
	r := NewRegistry()
	l, err := r.Acquire("sess-a", "fw-update")
	require.NoError(t, err)

	require.NoError(t, r.ReleaseLock(l.ID))
	assert.ErrorIs(t, r.ReleaseLock(l.ID), ErrNotHeld)

	_, err = r.Acquire("sess-b", "fw-update")
	assert.NoError(t, err)
}

func TestReleaseAllForSession(t *testing.T) {
	r := NewRegistry()
	_, err := r.Acquire("sess-a", "res-1")
	require.NoError(t, err)
	_, err = r.Acquire("sess-a", "res-2")
	require.NoError(t, err)
	_, err = r.Acquire("sess-b", "res-3")
	require.NoError(t, err)

	r.Release("sess-a")
	assert.Empty(t, r.Held("sess-a"))
	assert.Len(t, r.Held("sess-b"), 1)

	// Resources freed for other sessions.
	_, err = r.Acquire("sess-b", "res-1")
	assert.NoError(t, err)

	// Releasing a session that holds nothing is a no-op.
	r.Release("sess-unknown")
}
