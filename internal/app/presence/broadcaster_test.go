package presence

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzpresence/internal/app/state"
)

func TestBroadcasterSkipsInactiveSessions(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r := NewRegistry("instance-a", store, zerolog.Nop())
	b := NewBroadcaster("instance-a", store, r, nil, zerolog.Nop())

	active := newTestSession("s1", "alice")
	pending := newTestSession("s2", "alice")
	_, err := r.Register(ctx, active)
	require.NoError(t, err)
	_, err = r.Register(ctx, pending)
	require.NoError(t, err)
	active.setState(StateActive)
	pending.setState(StateAuthenticated)

	b.Connected(ctx, pending)

	assert.Equal(t, []Event{ConnectEcho("s2", 2)}, active.conn.(*fakeConn).Events())
	assert.Empty(t, pending.conn.(*fakeConn).Events())
}

func TestBroadcasterHandleRemote(t *testing.T) {
	store := state.NewMemoryStore()
	r := NewRegistry("instance-a", store, zerolog.Nop())
	b := NewBroadcaster("instance-a", store, r, nil, zerolog.Nop())

	sess := newTestSession("s1", "alice")
	_, err := r.Register(context.Background(), sess)
	require.NoError(t, err)
	sess.setState(StateActive)
	conn := sess.conn.(*fakeConn)

	b.HandleRemote(state.EchoMessage{Origin: "instance-a", Event: EventSocketConnectEcho, UserName: "alice", SocketID: "x", Connected: 9})
	b.HandleRemote(state.EchoMessage{Origin: "instance-b", Event: "bogus", UserName: "alice", SocketID: "x", Connected: 9})
	b.HandleRemote(state.EchoMessage{Origin: "instance-b", Event: EventSocketDisconnectEcho, UserName: "bob", SocketID: "y", Connected: 0})
	assert.Empty(t, conn.Events())

	b.HandleRemote(state.EchoMessage{Origin: "instance-b", Event: EventSocketDisconnectEcho, UserName: "alice", SocketID: "r1", Connected: 1})
	assert.Equal(t, []Event{DisconnectEcho("r1", 1)}, conn.Events())
}

func TestBroadcasterCountFailureSkipsEcho(t *testing.T) {
	store := state.NewMemoryStore()
	r := NewRegistry("instance-a", store, zerolog.Nop())
	b := NewBroadcaster("instance-a", store, r, nil, zerolog.Nop())

	sess := newTestSession("s1", "alice")
	_, err := r.Register(context.Background(), sess)
	require.NoError(t, err)
	sess.setState(StateActive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Connected(ctx, sess)

	assert.Empty(t, sess.conn.(*fakeConn).Events())
}
