package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps presence entries in process memory. Several presence.Service
// values may share one MemoryStore to behave like instances sharing a real backend.
type MemoryStore struct {
	mu sync.RWMutex

	// entries maps instance UID -> socket ID -> user name.
	entries map[string]map[string]string

	// users counts entries per user name.
	users map[string]int

	// alive maps instance UID -> liveness deadline.
	alive map[string]time.Time

	now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]map[string]string),
		users:   make(map[string]int),
		alive:   make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) Put(ctx context.Context, instanceUID, socketID, userName string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sockets, ok := m.entries[instanceUID]
	if !ok {
		sockets = make(map[string]string)
		m.entries[instanceUID] = sockets
	}
	if _, exists := sockets[socketID]; exists {
		return ErrDuplicateSocket
	}

	sockets[socketID] = userName
	m.users[userName]++
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, instanceUID, socketID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(instanceUID, socketID)
	return nil
}

func (m *MemoryStore) deleteLocked(instanceUID, socketID string) bool {
	sockets, ok := m.entries[instanceUID]
	if !ok {
		return false
	}
	userName, ok := sockets[socketID]
	if !ok {
		return false
	}

	delete(sockets, socketID)
	if len(sockets) == 0 {
		delete(m.entries, instanceUID)
	}

	if m.users[userName] <= 1 {
		delete(m.users, userName)
	} else {
		m.users[userName]--
	}
	return true
}

func (m *MemoryStore) SocketsForInstance(ctx context.Context, instanceUID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("sockets for instance", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.entries[instanceUID]))
	for socketID, userName := range m.entries[instanceUID] {
		out[socketID] = userName
	}
	return out, nil
}

func (m *MemoryStore) AllSockets(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("all sockets", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string)
	for _, sockets := range m.entries {
		for socketID, userName := range sockets {
			out[socketID] = userName
		}
	}
	return out, nil
}

func (m *MemoryStore) CountSocketsForUser(ctx context.Context, userName string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("count sockets", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.users[userName], nil
}

func (m *MemoryStore) Heartbeat(ctx context.Context, instanceUID string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("heartbeat", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	deadline, ok := m.alive[instanceUID]
	m.alive[instanceUID] = now.Add(ttl)
	return !ok || !now.Before(deadline), nil
}

func (m *MemoryStore) RemoveInstance(ctx context.Context, instanceUID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("remove instance", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeInstanceLocked(instanceUID)
	return nil
}

func (m *MemoryStore) removeInstanceLocked(instanceUID string) int {
	removed := 0
	for socketID := range m.entries[instanceUID] {
		if m.deleteLocked(instanceUID, socketID) {
			removed++
		}
	}
	delete(m.alive, instanceUID)
	return removed
}

func (m *MemoryStore) ReapExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("reap", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0

	for instanceUID := range m.entries {
		deadline, ok := m.alive[instanceUID]
		if ok && now.Before(deadline) {
			continue
		}
		removed += m.removeInstanceLocked(instanceUID)
	}
	for instanceUID, deadline := range m.alive {
		if !now.Before(deadline) {
			delete(m.alive, instanceUID)
		}
	}

	return removed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
