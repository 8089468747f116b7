package presence

import (
	"context"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzpresence/internal/app/state"
	"hzpresence/internal/pkg/errs"
)

func TestCloseDisconnectsSocketsBeforeCallback(t *testing.T) {
	store := state.NewMemoryStore()
	svc := newTestService(t, store)
	conn, _ := login(t, svc, "alice")

	var calls atomic.Int32
	result := make(chan []Event, 1)
	svc.CloseWithCallback(context.Background(), func(err error) {
		calls.Add(1)
		assert.NoError(t, err)
		result <- conn.Events()
	})

	var events []Event
	select {
	case events = <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback not fired")
	}

	require.NotEmpty(t, events)
	assert.Equal(t, EventDisconnect, events[len(events)-1].Name)
	conn.waitClosed(t)

	assert.Empty(t, svc.LocalSockets())
	assert.Empty(t, allSockets(t, store))

	// Later calls report the same result without draining again.
	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCloseWithoutSockets(t *testing.T) {
	svc, err := New(state.NewMemoryStore(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	done := make(chan error, 1)
	svc.CloseWithCallback(context.Background(), func(err error) { done <- err })

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not complete")
	}

	select {
	case <-svc.Closed():
	default:
		t.Fatal("Closed not signalled")
	}
}

func TestCloseRejectsNewConnections(t *testing.T) {
	svc := newTestService(t, state.NewMemoryStore())
	require.NoError(t, svc.Close(context.Background()))

	conn, served := serve(svc, "alice")
	ev := conn.next(t, EventLoginRejected)
	assert.Equal(t, []any{errs.NewError(errs.ErrServiceClosing).Message}, ev.Args)
	conn.waitClosed(t)
	waitServed(t, served)
}

func TestCloseRemovesInstanceEntries(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()

	a := newTestService(t, store, WithInstanceUID("instance-a"))
	b := newTestService(t, store, WithInstanceUID("instance-b"))
	login(t, a, "alice")
	_, bID := login(t, b, "alice")

	require.NoError(t, a.Close(ctx))

	assert.Equal(t, map[string]string{bID: "alice"}, allSockets(t, store))
}

func TestCloseAggregatesUnregisterFailures(t *testing.T) {
	store := &flakyDeleteStore{MemoryStore: state.NewMemoryStore(), failures: 100}
	svc := newTestService(t, store)
	login(t, svc, "alice")
	login(t, svc, "bob")

	err := svc.Close(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrStoreUnavailable, errs.CodeOf(err))
	assert.Empty(t, svc.LocalSockets())
}

func TestCloseBoundedByContext(t *testing.T) {
	store := state.NewMemoryStore()
	svc := newTestService(t, store)

	stuck := &stuckConn{fakeConn: newFakeConn()}
	go svc.Serve(context.Background(), stuck, NewHandshake(url.Values{UserQueryParam: {"alice"}}, nil, ""))
	stuck.next(t, EventLoginConfirmed)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := svc.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, stuck.fakeConn.Close("test over"))
}

// stuckConn never acknowledges Close.
type stuckConn struct {
	*fakeConn
}

func (c *stuckConn) Close(reason string) error {
	return nil
}
