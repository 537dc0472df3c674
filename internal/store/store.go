// Package store holds the job store: the single source of truth for job
// status and results. All backends (memory, redis, postgres) satisfy Store
// and share the transition rules in this file.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateID       = errors.New("duplicate job id")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// TransitionError describes a rejected Update. It matches ErrInvalidTransition.
type TransitionError struct {
	ID     string
	From   models.Status
	To     models.Status
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid job status transition for %s: %s -> %s", e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Store is the job data access interface. Operations on one id are
// serialized; operations on different ids do not contend.
type Store interface {
	Ping(ctx context.Context) error

	// Create inserts a pending job. An empty id is replaced by a generated
	// one. Ids that exist or were ever used return ErrDuplicateID.
	Create(ctx context.Context, id string, payload models.Payload) (*models.Job, error)
	// Get returns a snapshot of the job, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Job, error)
	// Update moves the job along pending -> processing -> {completed, failed}.
	Update(ctx context.Context, id string, status models.Status, opts ...UpdateOption) error
	// Heartbeat refreshes the lease of a processing job.
	Heartbeat(ctx context.Context, id string) error

	// ListByStatus returns jobs in status whose last activity is before
	// activeBefore. A zero activeBefore returns every job in status.
	ListByStatus(ctx context.Context, status models.Status, activeBefore time.Time) ([]*models.Job, error)
	// Evict drops terminal jobs that finished before finishedBefore and
	// returns how many were removed. Evicted ids stay reserved.
	Evict(ctx context.Context, finishedBefore time.Time) (int, error)
}

type updateParams struct {
	Result *string
	Error  *string
}

type UpdateOption func(*updateParams)

func WithResult(text string) UpdateOption {
	return func(p *updateParams) {
		p.Result = &text
	}
}

func WithError(msg string) UpdateOption {
	return func(p *updateParams) {
		p.Error = &msg
	}
}

// NewID returns a server-generated job id.
func NewID() string {
	return uuid.NewString()
}

func newJob(id string, payload models.Payload, now time.Time) *models.Job {
	return &models.Job{
		ID:        id,
		Status:    models.JobStatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func collectParams(opts []UpdateOption) *updateParams {
	params := &updateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// checkUpdate enforces the transition DAG and the result/error pairing:
// completed carries a result and no error, failed carries an error and no result.
func checkUpdate(job *models.Job, status models.Status, p *updateParams) error {
	if !job.Status.CanTransitionTo(status) {
		return &TransitionError{ID: job.ID, From: job.Status, To: status}
	}

	terr := func(reason string) error {
		return &TransitionError{ID: job.ID, From: job.Status, To: status, Reason: reason}
	}
	switch status {
	case models.JobStatusCompleted:
		if p.Result == nil {
			return terr("completed requires a result")
		}
		if p.Error != nil {
			return terr("completed cannot carry an error")
		}
	case models.JobStatusFailed:
		if p.Error == nil {
			return terr("failed requires an error")
		}
		if p.Result != nil {
			return terr("failed cannot carry a result")
		}
	default:
		if p.Result != nil || p.Error != nil {
			return terr("only terminal updates carry a result or error")
		}
	}
	return nil
}

// applyUpdate mutates job in place. Callers must have run checkUpdate.
func applyUpdate(job *models.Job, status models.Status, p *updateParams, now time.Time) {
	job.Status = status
	job.UpdatedAt = now

	switch status {
	case models.JobStatusProcessing:
		job.StartedAt = &now
		job.HeartbeatAt = &now
	case models.JobStatusCompleted, models.JobStatusFailed:
		job.CompletedAt = &now
		job.Result = p.Result
		job.Error = p.Error
	}
}

// lastActivity is the time the lease of a job was last renewed.
func lastActivity(job *models.Job) time.Time {
	if job.HeartbeatAt != nil {
		return *job.HeartbeatAt
	}
	return job.UpdatedAt
}

func activeBeforeMatch(job *models.Job, activeBefore time.Time) bool {
	return activeBefore.IsZero() || lastActivity(job).Before(activeBefore)
}

func heartbeatError(job *models.Job) error {
	return &TransitionError{ID: job.ID, From: job.Status, To: job.Status, Reason: "heartbeat requires a processing job"}
}
