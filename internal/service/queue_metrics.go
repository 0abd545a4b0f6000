package service

import (
	"context"
	"log/slog"
	"time"

	"coldfront/internal/middleware"
	"coldfront/internal/observability"
)

// RunQueueDepthPoller publishes request counts per status every interval
// until ctx is done. It only reads.
func (s *StorageRequestService) RunQueueDepthPoller(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.recordQueueDepth(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *StorageRequestService) recordQueueDepth(ctx context.Context) {
	counts, err := s.requests.CountByStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			middleware.Logger.WarnContext(ctx, "queue depth poll failed", slog.String("error", err.Error()))
		}
		return
	}
	for status, n := range counts {
		observability.StorageQueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}
