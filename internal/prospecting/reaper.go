package prospecting

import (
	"context"
	"time"

	"github.com/divulgaai/prospecting-engine/internal/observability/metrics"
	"github.com/divulgaai/prospecting-engine/pkg/logging"
)

// StaleReleaser bulk-releases claims older than a threshold.
type StaleReleaser interface {
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Reaper recovers leads claimed by workers that crashed or hung between
// claim and completion. One runs per fleet.
type Reaper struct {
	store      StaleReleaser
	metrics    *metrics.ProspectingMetrics
	logger     *logging.Logger
	interval   time.Duration
	staleAfter time.Duration
}

func NewReaper(store StaleReleaser, logger *logging.Logger) *Reaper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reaper{
		store:      store,
		logger:     logger,
		interval:   10 * time.Minute,
		staleAfter: 10 * time.Minute,
	}
}

func (r *Reaper) WithInterval(d time.Duration) *Reaper {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Reaper) WithStaleAfter(d time.Duration) *Reaper {
	if d > 0 {
		r.staleAfter = d
	}
	return r
}

func (r *Reaper) WithMetrics(m *metrics.ProspectingMetrics) *Reaper {
	r.metrics = m
	return r
}

// Run sweeps on a fixed period until ctx is canceled. A failed sweep is
// logged and retried on the next tick; the reaper never terminates on its
// own.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	if r.store == nil {
		return
	}
	released, err := r.store.ReleaseStale(ctx, r.staleAfter)
	if err != nil {
		r.logger.Error("stale claim sweep failed", "error", err)
		return
	}
	r.metrics.ObserveReaped(released)
	if released > 0 {
		r.logger.Info("released stale claims", "count", released)
	}
}
