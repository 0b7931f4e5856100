package relay

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically evicts sessions that have gone silent past the
// staleness timeout. Eviction force-closes the connection, which drives the
// normal close path.
type Reaper struct {
	hub      *Hub
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

func NewReaper(hub *Hub, interval, timeout time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		hub:      hub,
		interval: interval,
		timeout:  timeout,
		log:      logger,
	}
}

// Run sweeps on a fixed period until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.hub.ReapStale(r.timeout); n > 0 {
				r.log.Info("reaper evicted stale sessions", "count", n)
			}
		}
	}
}
