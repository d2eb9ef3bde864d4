package worker

import (
	"context"
	"log/slog"
	"time"

	"webpconverter/services"
)

const (
	sweepInterval = 5 * time.Minute
	staleAfter    = 5 * time.Minute
)

// Janitor periodically removes files that interrupted requests left behind
// in the holding area.
type Janitor struct {
	sweeper  services.Sweeper
	interval time.Duration
	stale    time.Duration
	logger   *slog.Logger
}

func NewJanitor(sweeper services.Sweeper, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{sweeper: sweeper, interval: sweepInterval, stale: staleAfter, logger: logger}
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("starting holding area janitor", "interval", j.interval)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor shutting down")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) int {
	removed, err := j.sweeper.Sweep(ctx, j.stale)
	if err != nil {
		j.logger.Error("failed to sweep holding area", "error", err)
	}
	if removed > 0 {
		j.logger.Info("removed stale files", "count", removed)
	}
	return removed
}
