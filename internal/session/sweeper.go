package session

import (
	"context"
	"time"
)

// SweepExpired drops every expired entry and returns the removed ids, oldest
// first. Every session shares one TTL, so only the expired prefix of the
// creation order is visited.
func (s *Store) SweepExpired() []string {
	now := s.now()

	var expired []string
	s.mu.Lock()
	for len(s.order) > 0 {
		id := s.order[0]
		if e, ok := s.entries[id]; ok && !now.After(e.expiresAt) {
			break
		}
		s.order = s.order[1:]
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()
	if len(expired) == 0 {
		return nil
	}

	at := now.UTC()
	for _, id := range expired {
		s.observer.Observe(Event{Kind: EventExpired, SessionID: id, At: at})
	}
	return expired
}

// StartSweeper removes expired sessions every interval until ctx is done.
// A non-positive interval leaves expiry purely lazy.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration, onExpired func(ids []string)) {
	if interval <= 0 {
		s.logger.Info("session sweeper disabled")
		return
	}
	go s.sweepLoop(ctx, interval, onExpired)
}

func (s *Store) sweepLoop(ctx context.Context, interval time.Duration, onExpired func([]string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := s.SweepExpired()
			if len(ids) == 0 {
				continue
			}
			s.logger.Info("expired sessions swept", "count", len(ids), "remaining", s.Len())
			if onExpired != nil {
				onExpired(ids)
			}
		}
	}
}
