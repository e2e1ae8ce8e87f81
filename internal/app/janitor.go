package app

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically removes battles past their retention window from stores
// that do not expire keys on their own.
type Janitor struct {
	sessions SessionRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewJanitor(sessions SessionRepository, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{sessions: sessions, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs a single expiry pass.
func (j *Janitor) Sweep(ctx context.Context) int {
	removed, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("expire battles failed", "error", err)
		return 0
	}
	if removed > 0 {
		j.logger.Info("expired battles removed", "count", removed)
	}
	return removed
}
