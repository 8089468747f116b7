package state

import (
	"context"
	"fmt"

	"hzpresence/internal/app/db"
)

// Backends bundles the store and bus built from a Config.
type Backends struct {
	Store Store
	Bus   Bus
}

// Open builds the Store and Bus selected by cfg.Backend.
// Store and bus share one client (redis) or one pool (postgres).
func Open(ctx context.Context, cfg Config) (*Backends, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return &Backends{Store: NewMemoryStore(), Bus: NewMemoryBus()}, nil

	case BackendRedis:
		client, err := DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		prefix := cfg.KeyPrefix
		if prefix == "" {
			prefix = DefaultKeyPrefix
		}
		return &Backends{
			Store: NewRedisStore(client, prefix),
			Bus:   NewRedisBus(client, prefix+echoChannelSuffix),
		}, nil

	case BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return &Backends{
			Store: NewPostgresStore(pool),
			Bus:   NewPostgresBus(pool, DefaultNotifyChannel),
		}, nil

	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

const echoChannelSuffix = "echo"

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Bus   = (*MemoryBus)(nil)
	_ Bus   = (*RedisBus)(nil)
	_ Bus   = (*PostgresBus)(nil)
)
