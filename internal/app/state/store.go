/*
Package state defines the shared presence store used by every instance of the service.

A PresenceEntry records that socket X, owned by user U, lives on instance I. Each
instance writes its own entries; cross-instance questions (how many sockets does U
have, which sockets live on I) are answered only from the store, never from another
instance's memory. Backends: in-process memory, Redis and PostgreSQL.
*/
package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable wraps every failure caused by the backend being unreachable or erroring.
	ErrUnavailable = errors.New("state store unavailable")

	// ErrDuplicateSocket is returned by Put when the (instance, socket) pair already exists.
	ErrDuplicateSocket = errors.New("socket already registered on instance")
)

// Store is the repository the presence core consumes. Implementations must be safe
// for concurrent use; every mutation touches a single PresenceEntry atomically.
type Store interface {
	// Put writes the entry (instanceUID, socketID) -> userName.
	Put(ctx context.Context, instanceUID, socketID, userName string) error

	// Delete removes the entry for (instanceUID, socketID). Deleting a missing entry is not an error.
	Delete(ctx context.Context, instanceUID, socketID string) error

	// SocketsForInstance returns socketID -> userName for one instance.
	SocketsForInstance(ctx context.Context, instanceUID string) (map[string]string, error)

	// AllSockets returns socketID -> userName across all instances.
	AllSockets(ctx context.Context) (map[string]string, error)

	// CountSocketsForUser returns the number of entries owned by userName across all instances.
	CountSocketsForUser(ctx context.Context, userName string) (int, error)

	// Heartbeat marks instanceUID alive for ttl. It reports lapsed when the previous
	// liveness record was missing or had expired, in which case a reaper may already
	// have removed the instance's entries.
	Heartbeat(ctx context.Context, instanceUID string, ttl time.Duration) (lapsed bool, err error)

	// RemoveInstance deletes every entry of instanceUID and its liveness record.
	RemoveInstance(ctx context.Context, instanceUID string) error

	// ReapExpired removes the entries of every instance whose liveness record expired
	// and returns how many entries were removed.
	ReapExpired(ctx context.Context) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// Backend names accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend     string
	RedisURL    string
	KeyPrefix   string
	DatabaseDSN string
}

// unavailable wraps err as ErrUnavailable, annotated with the failing operation.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// entryMember encodes an (instance, socket) pair as a single string.
func entryMember(instanceUID, socketID string) string {
	return instanceUID + "/" + socketID
}
