package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hzpresence/internal/pkg/logx"
)

// DefaultNotifyChannel is the LISTEN/NOTIFY channel used by PostgresBus.
const DefaultNotifyChannel = "hzp_echo"

// PostgresBus relays echoes with PostgreSQL LISTEN/NOTIFY.
type PostgresBus struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPostgresBus returns a bus on channel; an empty channel selects DefaultNotifyChannel.
func NewPostgresBus(pool *pgxpool.Pool, channel string) *PostgresBus {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &PostgresBus{pool: pool, channel: channel}
}

func (b *PostgresBus) Publish(ctx context.Context, msg EchoMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal echo message: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, b.channel, string(payload)); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Subscribe holds one pooled connection for the lifetime of the subscription.
func (b *PostgresBus) Subscribe(ctx context.Context, handler func(EchoMessage)) (Subscription, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, unavailable("subscribe", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, unavailable("subscribe", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &postgresSubscription{conn: conn, cancel: cancel, done: make(chan struct{})}
	go sub.run(listenCtx, handler)
	return sub, nil
}

type postgresSubscription struct {
	conn   *pgxpool.Conn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *postgresSubscription) run(ctx context.Context, handler func(EchoMessage)) {
	defer close(s.done)

	for {
		n, err := s.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logx.Error(err, "Echo notification listener stopped")
			}
			return
		}

		var echo EchoMessage
		if err := json.Unmarshal([]byte(n.Payload), &echo); err != nil {
			logx.Warn("Dropping malformed echo message", "channel", n.Channel, "error", err.Error())
			continue
		}
		handler(echo)
	}
}

func (s *postgresSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		// The connection was interrupted mid-wait and cannot go back to the pool.
		s.conn.Hijack().Close(context.Background())
	})
	return nil
}
