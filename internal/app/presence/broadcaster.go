package presence

import (
	"context"

	"github.com/rs/zerolog"

	"hzpresence/internal/app/state"
	"hzpresence/internal/pkg/metrics"
)

// Broadcaster delivers connect/disconnect echoes to every active socket of a user.
// Counts always come from the shared store, after the transition's store mutation.
type Broadcaster struct {
	instanceUID string
	store       state.Store
	registry    *Registry

	// bus relays echoes to other instances; nil disables relaying.
	bus state.Bus

	logger zerolog.Logger
}

// NewBroadcaster wires a Broadcaster to the registry it delivers through.
func NewBroadcaster(instanceUID string, store state.Store, registry *Registry, bus state.Bus, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		instanceUID: instanceUID,
		store:       store,
		registry:    registry,
		bus:         bus,
		logger:      logger,
	}
}

// Connected sends socketConnectEcho for sess, the new socket itself included.
func (b *Broadcaster) Connected(ctx context.Context, sess *Session) {
	b.echo(ctx, EventSocketConnectEcho, sess.UserName, sess.ID)
}

// Disconnected sends socketDisconnectEcho for sess to the user's remaining sockets.
func (b *Broadcaster) Disconnected(ctx context.Context, sess *Session) {
	b.echo(ctx, EventSocketDisconnectEcho, sess.UserName, sess.ID)
}

func (b *Broadcaster) echo(ctx context.Context, event, userName, socketID string) {
	n, err := b.store.CountSocketsForUser(ctx, userName)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("count").Inc()
		b.logger.Error().Err(err).
			Str("event", event).
			Str("user", userName).
			Str("socket_id", socketID).
			Msg("Failed to count user sockets. Echo skipped.")
		return
	}

	b.deliver(event, userName, socketID, n)

	if b.bus == nil {
		return
	}

	msg := state.EchoMessage{
		Origin:    b.instanceUID,
		Event:     event,
		UserName:  userName,
		SocketID:  socketID,
		Connected: n,
	}
	if err := b.bus.Publish(ctx, msg); err != nil {
		b.logger.Warn().Err(err).
			Str("event", event).
			Str("user", userName).
			Msg("Failed to relay echo to other instances.")
	}
}

// HandleRemote delivers an echo produced by another instance to local sockets.
func (b *Broadcaster) HandleRemote(msg state.EchoMessage) {
	if msg.Origin == b.instanceUID {
		return
	}
	b.deliver(msg.Event, msg.UserName, msg.SocketID, msg.Connected)
}

func (b *Broadcaster) deliver(event, userName, socketID string, n int) {
	ev, ok := echoEvent(event, socketID, n)
	if !ok {
		b.logger.Warn().Str("event", event).Msg("Ignoring unknown echo event.")
		return
	}

	for _, sess := range b.registry.UserSessions(userName) {
		if sess.State() != StateActive {
			continue
		}
		if err := sess.send(ev); err != nil {
			b.logger.Warn().Err(err).
				Str("event", event).
				Str("socket_id", sess.ID).
				Msg("Failed to queue echo.")
			continue
		}
		metrics.EchoesTotal.WithLabelValues(event).Inc()
	}
}
