package node

import (
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(time2.NewMockClock(time.Now()))
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry()

	n, err := r.Register("n0", Info{PublicKey: "pk0", Endpoint: "127.0.0.1:7000", Capabilities: []string{"voting"}})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, n.Status)
	assert.Equal(t, 1.0, n.TrustScore)

	// duplicate
	_, err = r.Register("n0", Info{PublicKey: "pk0", Endpoint: "127.0.0.1:7000", Capabilities: []string{"voting"}})
	assert.True(t, errors.Is(err, ErrDuplicateNode))

	// missing fields
	_, err = r.Register("n1", Info{PublicKey: "pk1"})
	assert.True(t, errors.Is(err, ErrInvalidNodeInfo))
}

func TestRegistry_StatusTransitions(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("n0", Info{PublicKey: "pk0", Endpoint: "e0", Capabilities: []string{"voting"}})
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus("n0", StatusSuspended))
	n, err := r.Get("n0")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, n.Status)
	assert.Equal(t, 0, r.ActiveCount())

	assert.Error(t, r.UpdateStatus("missing", StatusInactive))
}

func TestRegistry_TrustScoreClamped(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("n0", Info{PublicKey: "pk0", Endpoint: "e0", Capabilities: []string{"voting"}})
	require.NoError(t, err)

	require.NoError(t, r.UpdateTrustScore("n0", 1.7))
	n, _ := r.Get("n0")
	assert.Equal(t, 1.0, n.TrustScore)

	require.NoError(t, r.UpdateTrustScore("n0", -0.3))
	n, _ = r.Get("n0")
	assert.Equal(t, 0.0, n.TrustScore)
}

func TestRegistry_SnapshotIsolated(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("n0", Info{PublicKey: "pk0", Endpoint: "e0", Capabilities: []string{"voting"}})
	require.NoError(t, err)

	n, _ := r.Get("n0")
	n.Status = StatusByzantine
	n.Capabilities[0] = "mutated"

	fresh, _ := r.Get("n0")
	assert.Equal(t, StatusActive, fresh.Status)
	assert.Equal(t, []string{"voting"}, fresh.Capabilities)
}
