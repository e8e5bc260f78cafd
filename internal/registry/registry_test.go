package registry

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/internal/storage"
	"github.com/sessionbroker/broker/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir, err := os.MkdirTemp("", "registry-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return New(storage.NewSessionStorage(dir))
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	event.Reset()
	received := make(chan *types.RegistryEntry, 1)
	unsubscribe := event.Subscribe(event.SessionCreated, func(e event.Event) {
		if data, ok := e.Data.(event.SessionCreatedData); ok {
			received <- data.Entry
		}
	})
	defer unsubscribe()

	entry := &types.RegistryEntry{SessionID: "s1", Cwd: "/tmp/work", State: StateStarting}
	require.NoError(t, r.Create(ctx, entry))

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)

	select {
	case e := <-received:
		assert.Equal(t, "s1", e.SessionID)
	default:
		t.Fatal("expected session:created event")
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_UpdateHelpers(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, &types.RegistryEntry{SessionID: "s1", State: StateStarting}))

	require.NoError(t, r.SetState(ctx, "s1", StateConnected))
	require.NoError(t, r.SetBackendSessionID(ctx, "s1", "backend-1"))
	require.NoError(t, r.SetPID(ctx, "s1", 4242))
	require.NoError(t, r.SetName(ctx, "s1", "Debugging flaky test"))
	require.NoError(t, r.SetModel(ctx, "s1", "claude-sonnet"))
	require.NoError(t, r.SetArchived(ctx, "s1", true))

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, got.State)
	assert.Equal(t, "backend-1", got.BackendSessionID)
	assert.Equal(t, 4242, got.PID)
	assert.Equal(t, "Debugging flaky test", got.Name)
	assert.Equal(t, "claude-sonnet", got.Model)
	assert.True(t, got.Archived)
}

func TestRegistry_UpdateNotFound(t *testing.T) {
	r := newTestRegistry(t)
	err := r.SetState(context.Background(), "missing", StateConnected)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_List(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, &types.RegistryEntry{SessionID: "s1"}))
	require.NoError(t, r.Create(ctx, &types.RegistryEntry{SessionID: "s2"}))

	list := r.List()
	assert.Len(t, list, 2)
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, &types.RegistryEntry{SessionID: "s1"}))
	require.NoError(t, r.Remove(ctx, "s1"))

	_, err := r.Get("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_RestoreAll(t *testing.T) {
	dir, err := os.MkdirTemp("", "registry-test-restore-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	store := storage.NewSessionStorage(dir)
	ctx := context.Background()
	require.NoError(t, store.SaveRegistryEntry(ctx, &types.RegistryEntry{SessionID: "s1"}))
	require.NoError(t, store.SaveRegistryEntry(ctx, &types.RegistryEntry{SessionID: "s2"}))

	r := New(store)
	count, err := r.RestoreAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, r.List(), 2)

	// Restoring again must not duplicate or overwrite live entries.
	count, err = r.RestoreAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
