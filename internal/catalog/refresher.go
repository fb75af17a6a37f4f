package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRefresher refreshes the catalog every interval until ctx is cancelled.
// Failures are logged and the previous catalog stays in place.
func (s *Store) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting catalog refresh loop", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping catalog refresh loop")
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil {
				s.logger.Error("Scheduled catalog refresh failed", zap.Error(err))
			}
		}
	}
}
