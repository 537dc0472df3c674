// Package worker runs the analysis for dispatched jobs and records the
// outcome in the job store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/casebridge/internal/ai"
	"github.com/kiranshivaraju/casebridge/internal/extract"
	"github.com/kiranshivaraju/casebridge/internal/metrics"
	"github.com/kiranshivaraju/casebridge/internal/prompt"
	"github.com/kiranshivaraju/casebridge/internal/store"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// maxErrorBytes caps the failure text recorded on a job.
const maxErrorBytes = 2000

// Config holds the timing knobs for a Worker.
type Config struct {
	// AnalysisTimeout bounds a single provider call.
	AnalysisTimeout time.Duration
	// LeaseTTL is how long a processing job may go without a heartbeat
	// before the reaper fails it. Heartbeats are sent every LeaseTTL/3.
	LeaseTTL time.Duration
	// WriteRetryBudget bounds the retries of the terminal store write.
	WriteRetryBudget time.Duration
}

// Worker processes one job at a time. It is safe for concurrent use.
type Worker struct {
	store    store.Store
	provider models.AIProvider
	hooks    extract.Chain
	prompts  *prompt.Builder
	cfg      Config
}

// New creates a Worker.
func New(st store.Store, provider models.AIProvider, hooks extract.Chain, prompts *prompt.Builder, cfg Config) *Worker {
	if cfg.WriteRetryBudget <= 0 {
		cfg.WriteRetryBudget = 30 * time.Second
	}
	return &Worker{
		store:    st,
		provider: provider,
		hooks:    hooks,
		prompts:  prompts,
		cfg:      cfg,
	}
}

// Process moves job to processing, runs the analysis and records completed
// or failed. Every job that reaches processing gets a terminal write
// attempt, including when the provider panics.
func (w *Worker) Process(ctx context.Context, job *models.Job) {
	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	if err := w.store.Update(ctx, job.ID, models.JobStatusProcessing); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			slog.Error("job is not pending, skipping", "job_id", job.ID, "error", err)
		} else {
			slog.Error("marking job processing", "job_id", job.ID, "error", err)
		}
		return
	}
	slog.Info("processing job", "job_id", job.ID, "attachments", len(job.Payload.Attachments))

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		w.heartbeat(hbCtx, job.ID)
	}()
	stop := func() {
		stopHeartbeat()
		hb.Wait()
	}

	defer func() {
		if r := recover(); r != nil {
			stop()
			slog.Error("panic in worker", "error", r, "job_id", job.ID)
			w.finish(ctx, job.ID, models.JobStatusFailed, fmt.Sprintf("analysis failed: internal error: %v", r))
		}
	}()

	text, err := w.analyze(ctx, job)
	stop()
	if err != nil {
		slog.Warn("analysis failed", "job_id", job.ID, "provider", w.provider.Name(), "error", err)
		w.finish(ctx, job.ID, models.JobStatusFailed, truncateString(ai.Describe(err), maxErrorBytes))
		return
	}
	w.finish(ctx, job.ID, models.JobStatusCompleted, text)
}

func (w *Worker) analyze(ctx context.Context, job *models.Job) (string, error) {
	in := extract.FromPayload(job.Payload)
	if err := w.hooks.Run(ctx, in); err != nil {
		return "", fmt.Errorf("extracting attachments: %w", err)
	}

	text, err := w.prompts.Build(in)
	if err != nil {
		return "", err
	}

	analysisCtx := ctx
	if w.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		analysisCtx, cancel = context.WithTimeout(ctx, w.cfg.AnalysisTimeout)
		defer cancel()
	}

	start := time.Now()
	report, err := w.provider.Analyze(analysisCtx, models.AnalysisRequest{
		Prompt:      text,
		Attachments: in.Attachments,
		History:     in.History,
	})
	metrics.AnalysisDuration.WithLabelValues(w.provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	report = strings.TrimSpace(report)
	if report == "" {
		return "", models.NewAnalysisError(models.AnalysisTransient, w.provider.Name(), nil, "provider returned an empty report")
	}
	return report, nil
}

func (w *Worker) heartbeat(ctx context.Context, id string) {
	if w.cfg.LeaseTTL <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, id); err != nil && ctx.Err() == nil {
				slog.Warn("job heartbeat failed", "job_id", id, "error", err)
			}
		}
	}
}

// finish records the terminal status. Store errors are retried with
// exponential backoff; a rejected transition is not. The write is detached
// from ctx cancellation so shutdown still records the outcome.
func (w *Worker) finish(ctx context.Context, id string, status models.Status, text string) {
	ctx = context.WithoutCancel(ctx)

	opt := store.WithResult(text)
	if status == models.JobStatusFailed {
		opt = store.WithError(text)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = w.cfg.WriteRetryBudget

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.StoreWriteRetries.Inc()
		}
		err := w.store.Update(ctx, id, status, opt)
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		slog.Error("recording job outcome", "job_id", id, "status", status, "attempts", attempt, "error", err)
		return
	}

	metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	slog.Info("job finished", "job_id", id, "status", status)
}

// truncateString truncates s to at most maxBytes bytes without splitting a
// multi-byte rune.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
