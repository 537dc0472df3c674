package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/casebridge/internal/metrics"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// LeaseExpiredMessage is recorded on jobs failed by the reaper.
const LeaseExpiredMessage = "worker lease expired before the analysis finished; the job may be resubmitted"

// ReaperConfig controls the background maintenance loops.
type ReaperConfig struct {
	LeaseTTL     time.Duration // processing jobs silent longer than this are failed
	ReapInterval time.Duration
	Retention    time.Duration // terminal jobs older than this are evicted; 0 disables
	EvictEvery   time.Duration
}

// Reaper fails processing jobs whose worker stopped heartbeating and
// evicts terminal jobs past the retention period.
type Reaper struct {
	store Store
	cfg   ReaperConfig
}

func NewReaper(s Store, cfg ReaperConfig) *Reaper {
	return &Reaper{store: s, cfg: cfg}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	reap := time.NewTicker(r.cfg.ReapInterval)
	defer reap.Stop()

	var evict <-chan time.Time
	if r.cfg.Retention > 0 && r.cfg.EvictEvery > 0 {
		t := time.NewTicker(r.cfg.EvictEvery)
		defer t.Stop()
		evict = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reap.C:
			if _, err := r.ReapOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("lease reaper failed", "error", err)
			}
		case <-evict:
			if _, err := r.EvictOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("retention eviction failed", "error", err)
			}
		}
	}
}

// ReapOnce fails every processing job whose lease is older than LeaseTTL
// and returns how many were failed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	stale, err := r.store.ListByStatus(ctx, models.JobStatusProcessing, time.Now().UTC().Add(-r.cfg.LeaseTTL))
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	reaped := 0
	for _, job := range stale {
		err := r.store.Update(ctx, job.ID, models.JobStatusFailed, WithError(LeaseExpiredMessage))
		switch {
		case err == nil:
			reaped++
			metrics.JobsReaped.Inc()
			metrics.JobsFinished.WithLabelValues(string(models.JobStatusFailed)).Inc()
			slog.Warn("job lease expired", "job_id", job.ID, "last_heartbeat", lastActivity(job))
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
			// The worker finished between the listing and the update.
		default:
			return reaped, fmt.Errorf("fail job %s: %w", job.ID, err)
		}
	}
	return reaped, nil
}

// EvictOnce drops terminal jobs that finished more than Retention ago.
func (r *Reaper) EvictOnce(ctx context.Context) (int, error) {
	if r.cfg.Retention <= 0 {
		return 0, nil
	}
	n, err := r.store.Evict(ctx, time.Now().UTC().Add(-r.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("evict jobs: %w", err)
	}
	if n > 0 {
		metrics.JobsEvicted.Add(float64(n))
		slog.Info("evicted finished jobs", "count", n)
	}
	return n, nil
}
