package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"hzpresence/internal/pkg/logx"
)

// DefaultEchoChannel is the pub/sub channel used by RedisBus.
const DefaultEchoChannel = "hzp:echo"

// EchoMessage is a presence echo relayed between instances.
type EchoMessage struct {
	// Origin is the UID of the instance that produced the echo.
	Origin string `json:"origin"`

	// Event is the client event name (socketConnectEcho or socketDisconnectEcho).
	Event string `json:"event"`

	UserName  string `json:"user"`
	SocketID  string `json:"socketId"`
	Connected int    `json:"nconnected"`
}

// Subscription is an active Bus subscription.
type Subscription interface {
	Close() error
}

// Bus relays presence echoes to the other instances.
type Bus interface {
	// Publish sends msg to every subscriber, the publisher's own included.
	Publish(ctx context.Context, msg EchoMessage) error

	// Subscribe starts delivering messages to handler. It returns once the
	// subscription is active; handler runs on a goroutine owned by the Bus.
	Subscribe(ctx context.Context, handler func(EchoMessage)) (Subscription, error)
}

// MemoryBus is an in-process Bus, the counterpart of MemoryStore.
type MemoryBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(EchoMessage)
}

// NewMemoryBus returns a MemoryBus without subscribers.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]func(EchoMessage))}
}

func (b *MemoryBus) Publish(ctx context.Context, msg EchoMessage) error {
	if err := ctx.Err(); err != nil {
		return unavailable("publish", err)
	}

	b.mu.RLock()
	handlers := make([]func(EchoMessage), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handler func(EchoMessage)) (Subscription, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return &memorySubscription{bus: b, id: id}, nil
}

type memorySubscription struct {
	bus  *MemoryBus
	id   int
	once sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.handlers, s.id)
		s.bus.mu.Unlock()
	})
	return nil
}

// RedisBus relays echoes over Redis pub/sub.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus returns a bus on channel; an empty channel selects DefaultEchoChannel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultEchoChannel
	}
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, msg EchoMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal echo message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handler func(EchoMessage)) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so no publication is missed after return.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, unavailable("subscribe", err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go sub.run(handler)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) run(handler func(EchoMessage)) {
	defer close(s.done)

	for msg := range s.pubsub.Channel() {
		var echo EchoMessage
		if err := json.Unmarshal([]byte(msg.Payload), &echo); err != nil {
			logx.Warn("Dropping malformed echo message", "channel", msg.Channel, "error", err.Error())
			continue
		}
		handler(echo)
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}
