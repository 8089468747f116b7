package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"hzpresence/internal/app/state"
	"hzpresence/internal/pkg/errs"
	"hzpresence/internal/pkg/metrics"
)

// Registry is the per-instance table of registered sessions, keyed by socket ID with a
// secondary index by user name. Every local mutation is mirrored to the shared store.
type Registry struct {
	instanceUID string
	store       state.Store

	// mu protects sessions, byUser and orphans. It is never held across a store call.
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session

	// orphans holds socket IDs whose entry delete failed; Reconcile retries them.
	orphans map[string]struct{}

	logger zerolog.Logger
}

// NewRegistry returns an empty Registry for instanceUID.
func NewRegistry(instanceUID string, store state.Store, logger zerolog.Logger) *Registry {
	return &Registry{
		instanceUID: instanceUID,
		store:       store,
		sessions:    make(map[string]*Session),
		byUser:      make(map[string]map[string]*Session),
		orphans:     make(map[string]struct{}),
		logger:      logger,
	}
}

// Register stores sess locally, then writes its PresenceEntry. If the store write fails
// the local entry is rolled back and a RegistrationError is returned. The returned
// session ID is the socket ID.
func (r *Registry) Register(ctx context.Context, sess *Session) (string, error) {
	if !r.add(sess) {
		return "", errs.Wrap(errs.ErrRegistrationFailed, state.ErrDuplicateSocket)
	}

	if err := r.store.Put(ctx, r.instanceUID, sess.ID, sess.UserName); err != nil {
		r.remove(sess.ID)
		metrics.StoreErrorsTotal.WithLabelValues("put").Inc()

		r.logger.Error().Err(err).
			Str("socket_id", sess.ID).
			Str("user", sess.UserName).
			Msg("Presence entry write failed. Local session rolled back.")

		return "", errs.Wrap(errs.ErrRegistrationFailed, err)
	}
	sess.stored.Store(true)

	metrics.ActiveSessions.Inc()
	return sess.ID, nil
}

// Unregister removes the local session and deletes its PresenceEntry. Unregistering an
// unknown socket is a no-op. A non-nil backoff retries the store delete; the local entry
// is gone either way. The removed session is returned, nil if there was none.
func (r *Registry) Unregister(ctx context.Context, socketID string, backoff retry.Backoff) (*Session, error) {
	sess := r.remove(socketID)
	if sess == nil {
		return nil, nil
	}
	metrics.ActiveSessions.Dec()

	deleteEntry := func(ctx context.Context) error {
		err := r.store.Delete(ctx, r.instanceUID, socketID)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
		}
		return err
	}

	var err error
	if backoff == nil {
		err = deleteEntry(ctx)
	} else {
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := deleteEntry(ctx); err != nil {
				if errors.Is(err, state.ErrUnavailable) {
					return retry.RetryableError(err)
				}
				return err
			}
			return nil
		})
	}

	if err != nil {
		r.addOrphan(socketID)
		return sess, errs.Wrap(errs.ErrStoreUnavailable, fmt.Errorf("delete presence entry %s: %w", socketID, err))
	}
	return sess, nil
}

// Reconcile brings this instance's entries in the store back in line with the local
// table. Orphaned entries are deleted again. With restore set, the entry of every
// stored session is written again; a peer's reaper removes all entries of an instance
// whose liveness record lapsed, including the ones of sessions still open here.
func (r *Registry) Reconcile(ctx context.Context, restore bool) (restored, cleared int, err error) {
	for _, socketID := range r.orphanIDs() {
		if delErr := r.store.Delete(ctx, r.instanceUID, socketID); delErr != nil {
			metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
			err = multierr.Append(err, fmt.Errorf("delete orphaned entry %s: %w", socketID, delErr))
			continue
		}
		r.clearOrphan(socketID)
		cleared++
	}

	if !restore {
		return restored, cleared, err
	}

	for _, sess := range r.sessionsSnapshot() {
		if !sess.stored.Load() {
			continue
		}
		putErr := r.store.Put(ctx, r.instanceUID, sess.ID, sess.UserName)
		switch {
		case errors.Is(putErr, state.ErrDuplicateSocket):
			continue
		case putErr != nil:
			metrics.StoreErrorsTotal.WithLabelValues("put").Inc()
			err = multierr.Append(err, fmt.Errorf("restore entry %s: %w", sess.ID, putErr))
			continue
		}

		// The socket may have unregistered while its entry was being written.
		if _, ok := r.Get(sess.ID); !ok {
			if delErr := r.store.Delete(ctx, r.instanceUID, sess.ID); delErr != nil {
				r.addOrphan(sess.ID)
			}
			continue
		}
		restored++
	}

	return restored, cleared, err
}

// Orphans returns how many entries are waiting for a delete retry.
func (r *Registry) Orphans() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orphans)
}

// LocalSockets returns a snapshot socketID -> userName of this instance's sessions.
func (r *Registry) LocalSockets() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.sessions))
	for id, sess := range r.sessions {
		out[id] = sess.UserName
	}
	return out
}

// UserSessions returns the local sessions of userName.
func (r *Registry) UserSessions(userName string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.byUser[userName]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(m))
	for _, sess := range m {
		out = append(out, sess)
	}
	return out
}

// Get returns the registered session for socketID.
func (r *Registry) Get(socketID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[socketID]
	return sess, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sessionsSnapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

func (r *Registry) orphanIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.orphans))
	for id := range r.orphans {
		out = append(out, id)
	}
	return out
}

func (r *Registry) addOrphan(socketID string) {
	r.mu.Lock()
	r.orphans[socketID] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) clearOrphan(socketID string) {
	r.mu.Lock()
	delete(r.orphans, socketID)
	r.mu.Unlock()
}

func (r *Registry) add(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.ID]; exists {
		return false
	}

	r.sessions[sess.ID] = sess

	m := r.byUser[sess.UserName]
	if m == nil {
		m = make(map[string]*Session)
		r.byUser[sess.UserName] = m
	}
	m[sess.ID] = sess
	return true
}

func (r *Registry) remove(socketID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[socketID]
	if !ok {
		return nil
	}
	delete(r.sessions, socketID)

	if m := r.byUser[sess.UserName]; m != nil {
		delete(m, socketID)
		if len(m) == 0 {
			delete(r.byUser, sess.UserName)
		}
	}
	return sess
}
