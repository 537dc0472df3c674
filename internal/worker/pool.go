package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/casebridge/internal/store"
	"github.com/kiranshivaraju/casebridge/pkg/models"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Dispatch after Shutdown has started.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Processor runs one job to completion. *Worker satisfies it.
type Processor interface {
	Process(ctx context.Context, job *models.Job)
}

// Pool runs dispatched jobs in the background with bounded concurrency.
type Pool struct {
	processor Processor
	store     store.Store
	sem       *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a Pool running at most concurrency jobs at once.
func NewPool(p Processor, st store.Store, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		processor: p,
		store:     st,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Dispatch schedules job and returns without waiting for a free slot.
func (p *Pool) Dispatch(job *models.Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(job)
	return nil
}

func (p *Pool) run(job *models.Job) {
	defer p.wg.Done()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		slog.Warn("dispatch abandoned, job left pending", "job_id", job.ID, "error", err)
		return
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in worker pool", "error", r, "job_id", job.ID)
		}
	}()

	p.processor.Process(p.ctx, job)
}

// Recover dispatches every pending job in the store. It is called once at
// startup so jobs accepted before a restart are not stranded.
func (p *Pool) Recover(ctx context.Context) (int, error) {
	jobs, err := p.store.ListByStatus(ctx, models.JobStatusPending, time.Time{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if err := p.Dispatch(job); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		slog.Info("recovered pending jobs", "count", n)
	}
	return n, nil
}

// Shutdown stops accepting work and waits for in-flight jobs. If ctx ends
// first, running analyses are cancelled; their outcome is still recorded
// and jobs still waiting for a slot stay pending.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
