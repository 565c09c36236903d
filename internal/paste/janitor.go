package paste

import (
	"context"
	"log/slog"
	"time"
)

const purgeTimeout = 30 * time.Second

// RunJanitor purges dead pastes every interval until ctx is canceled.
func RunJanitor(ctx context.Context, svc *Service, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = svc.logger
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purgeOnce(ctx, svc, logger)
		}
	}
}

func purgeOnce(ctx context.Context, svc *Service, logger *slog.Logger) {
	c, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()
	removed, err := svc.Purge(c)
	if err != nil {
		logger.Error("janitor error", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("janitor removed dead pastes", "count", removed)
	}
}
