package presence

import (
	"context"
	"time"

	"hzpresence/internal/pkg/metrics"
)

// runHeartbeatLoop keeps this instance alive in the store and removes the entries of
// instances whose heartbeat expired.
func (s *Service) runHeartbeatLoop() {
	defer close(s.heartbeatDone)

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.beat()
		case <-s.stopHeartbeat:
			s.logger.Debug().Msg("Heartbeat loop stopped.")
			return
		}
	}
}

// beat refreshes liveness, repairs this instance's own entries and reaps the entries
// of expired instances.
func (s *Service) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	lapsed, err := s.store.Heartbeat(ctx, s.uid, s.presenceTTL)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("heartbeat").Inc()
		s.logger.Error().Err(err).Msg("Heartbeat failed.")
		return
	}
	if lapsed {
		s.logger.Warn().Int("sessions", s.registry.Len()).Msg("Liveness record had lapsed. Restoring presence entries.")
	}

	restored, cleared, err := s.registry.Reconcile(ctx, lapsed)
	if err != nil {
		s.logger.Error().Err(err).Msg("Presence entry repair incomplete.")
	}
	if restored > 0 || cleared > 0 {
		s.logger.Info().Int("restored", restored).Int("cleared", cleared).Msg("Repaired presence entries.")
	}

	reaped, err := s.store.ReapExpired(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("reap").Inc()
		s.logger.Error().Err(err).Msg("Reconciliation pass failed.")
		return
	}
	if reaped > 0 {
		metrics.ReapedEntriesTotal.Add(float64(reaped))
		s.logger.Info().Int("reaped", reaped).Msg("Removed presence entries of expired instances.")
	}
}
