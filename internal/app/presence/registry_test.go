package presence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzpresence/internal/app/state"
	"hzpresence/internal/pkg/errs"
)

func newTestSession(id, user string) *Session {
	sess := newSession(id, "instance-a", newFakeConn(), NewHandshake(nil, nil, ""))
	sess.UserName = user
	return sess
}

func TestRegistryRegisterUnregister(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r := NewRegistry("instance-a", store, zerolog.Nop())

	id, err := r.Register(ctx, newTestSession("s1", "alice"))
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	_, err = r.Register(ctx, newTestSession("s2", "alice"))
	require.NoError(t, err)
	_, err = r.Register(ctx, newTestSession("s3", "bob"))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"s1": "alice", "s2": "alice", "s3": "bob"}, r.LocalSockets())
	assert.Len(t, r.UserSessions("alice"), 2)
	assert.Equal(t, 3, r.Len())

	n, err := store.CountSocketsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sess, err := r.Unregister(ctx, "s1", nil)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "alice", sess.UserName)

	// Idempotent.
	sess, err = r.Unregister(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Nil(t, sess)

	n, err = store.CountSocketsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := r.Get("s1")
	assert.False(t, ok)
	assert.Len(t, r.UserSessions("alice"), 1)
	assert.Empty(t, r.UserSessions("nobody"))
}

func TestRegistryDuplicateSocket(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry("instance-a", state.NewMemoryStore(), zerolog.Nop())

	_, err := r.Register(ctx, newTestSession("s1", "alice"))
	require.NoError(t, err)

	_, err = r.Register(ctx, newTestSession("s1", "bob"))
	require.Error(t, err)
	assert.Equal(t, errs.ErrRegistrationFailed, errs.CodeOf(err))
	assert.ErrorIs(t, err, state.ErrDuplicateSocket)
	assert.Equal(t, map[string]string{"s1": "alice"}, r.LocalSockets())
}

func TestRegistryRollbackOnStoreFailure(t *testing.T) {
	store := &failingStore{MemoryStore: state.NewMemoryStore(), putErr: state.ErrUnavailable}
	r := NewRegistry("instance-a", store, zerolog.Nop())

	_, err := r.Register(context.Background(), newTestSession("s1", "alice"))
	require.Error(t, err)
	assert.Equal(t, errs.ErrRegistrationFailed, errs.CodeOf(err))
	assert.ErrorIs(t, err, state.ErrUnavailable)

	assert.Zero(t, r.Len())
	assert.Empty(t, r.UserSessions("alice"))
}

func TestRegistryUnregisterRetries(t *testing.T) {
	ctx := context.Background()
	store := &flakyDeleteStore{MemoryStore: state.NewMemoryStore(), failures: 2}
	r := NewRegistry("instance-a", store, zerolog.Nop())

	_, err := r.Register(ctx, newTestSession("s1", "alice"))
	require.NoError(t, err)

	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	_, err = r.Unregister(ctx, "s1", backoff)
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.calls.Load())

	n, err := store.CountSocketsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistryUnregisterGivesUp(t *testing.T) {
	ctx := context.Background()
	store := &flakyDeleteStore{MemoryStore: state.NewMemoryStore(), failures: 10}
	r := NewRegistry("instance-a", store, zerolog.Nop())

	_, err := r.Register(ctx, newTestSession("s1", "alice"))
	require.NoError(t, err)

	_, err = r.Unregister(ctx, "s1", nil)
	require.Error(t, err)
	assert.Equal(t, errs.ErrStoreUnavailable, errs.CodeOf(err))
	assert.Equal(t, int32(1), store.calls.Load())

	// The local session is gone regardless; the entry waits for Reconcile.
	assert.Zero(t, r.Len())
	assert.Equal(t, 1, r.Orphans())
	n, err := store.CountSocketsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegistryReconcileClearsOrphans(t *testing.T) {
	ctx := context.Background()
	store := &flakyDeleteStore{MemoryStore: state.NewMemoryStore(), failures: 2}
	r := NewRegistry("instance-a", store, zerolog.Nop())

	_, err := r.Register(ctx, newTestSession("s1", "alice"))
	require.NoError(t, err)
	_, err = r.Unregister(ctx, "s1", nil)
	require.Error(t, err)

	// Second delete still fails; the orphan is kept.
	_, cleared, err := r.Reconcile(ctx, false)
	require.Error(t, err)
	assert.Zero(t, cleared)
	assert.Equal(t, 1, r.Orphans())

	_, cleared, err = r.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
	assert.Zero(t, r.Orphans())

	n, err := store.CountSocketsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistryReconcileRestoresEntries(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r := NewRegistry("instance-a", store, zerolog.Nop())

	_, err := r.Register(ctx, newTestSession("s1", "alice"))
	require.NoError(t, err)
	_, err = r.Register(ctx, newTestSession("s2", "bob"))
	require.NoError(t, err)

	// Known locally but never written; Register still owns its Put.
	require.True(t, r.add(newTestSession("s3", "carol")))

	require.NoError(t, store.RemoveInstance(ctx, "instance-a"))

	restored, _, err := r.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	sockets, err := store.SocketsForInstance(ctx, "instance-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"s1": "alice", "s2": "bob"}, sockets)

	// Entries already present are left alone.
	restored, _, err = r.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, restored)
}

// flakyDeleteStore fails the first failures deletes with state.ErrUnavailable.
type flakyDeleteStore struct {
	*state.MemoryStore
	failures int32
	calls    atomic.Int32
}

func (f *flakyDeleteStore) Delete(ctx context.Context, instanceUID, socketID string) error {
	if f.calls.Add(1) <= f.failures {
		return state.ErrUnavailable
	}
	return f.MemoryStore.Delete(ctx, instanceUID, socketID)
}
