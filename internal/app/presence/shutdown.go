package presence

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// Close drains the instance: new connections are rejected, every local socket receives
// disconnect and is closed, and Close waits until each one finished unregistering or
// ctx ends. The instance is then removed from the store. Per-socket failures do not
// stop the drain; they are aggregated into the returned error. Only the first call
// drains, later calls return its result.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.drain(ctx)
		close(s.closed)
	})
	<-s.closed
	return s.closeErr
}

// CloseWithCallback runs Close in the background and calls cb exactly once with its result.
func (s *Service) CloseWithCallback(ctx context.Context, cb func(error)) {
	go func() {
		err := s.Close(ctx)
		if cb != nil {
			cb(err)
		}
	}()
}

// Closed is closed once the drain has finished.
func (s *Service) Closed() <-chan struct{} {
	return s.closed
}

func (s *Service) drain(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	pending := make([]*Session, 0, len(s.conns))
	for _, sess := range s.conns {
		pending = append(pending, sess)
	}
	s.mu.Unlock()

	s.logger.Info().Int("sockets", len(pending)).Msg("Draining presence instance.")

	for _, sess := range pending {
		if err := sess.send(Disconnect()); err != nil {
			s.logger.Debug().Err(err).Str("socket_id", sess.ID).Msg("Failed to queue disconnect.")
		}
		_ = sess.conn.Close("server shutting down")
	}

	var result error

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		result = multierr.Append(result, fmt.Errorf("drain interrupted with %d sockets left: %w", s.registry.Len(), ctx.Err()))
	}

	s.mu.Lock()
	result = multierr.Append(result, multierr.Combine(s.drainErrs...))
	s.mu.Unlock()

	close(s.stopHeartbeat)
	<-s.heartbeatDone

	if s.sub != nil {
		result = multierr.Append(result, s.sub.Close())
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.store.RemoveInstance(storeCtx, s.uid); err != nil {
		result = multierr.Append(result, fmt.Errorf("remove instance %s: %w", s.uid, err))
	}

	if result != nil {
		s.logger.Error().Err(result).Msg("Presence instance drained with errors.")
	} else {
		s.logger.Info().Msg("Presence instance drained.")
	}
	return result
}
