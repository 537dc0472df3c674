// Package submission validates incoming cases, records them as pending
// jobs and hands them to the worker pool.
package submission

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/internal/metrics"
	"github.com/kiranshivaraju/casebridge/internal/store"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// File is one uploaded attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Request is a case submission.
type Request struct {
	// JobID is optional. When set it acts as an idempotency key: a second
	// submission with the same id fails with store.ErrDuplicateID.
	JobID   string
	Prompt  string
	Files   []File
	History []models.Turn
}

// Dispatcher schedules a created job for processing without blocking.
type Dispatcher interface {
	Dispatch(job *models.Job) error
}

// Service accepts submissions.
type Service struct {
	store        store.Store
	dispatcher   Dispatcher
	allow        *AllowList
	maxFiles     int
	maxFileBytes int64
}

// NewService creates a Service.
func NewService(st store.Store, d Dispatcher, cfg config.SubmissionConfig) *Service {
	return &Service{
		store:        st,
		dispatcher:   d,
		allow:        NewAllowList(cfg.MediaTypes),
		maxFiles:     cfg.MaxFiles,
		maxFileBytes: cfg.MaxFileBytes,
	}
}

// MediaTypes returns the accepted media types.
func (s *Service) MediaTypes() []string {
	return s.allow.Entries()
}

// Submit validates req, creates a pending job and dispatches it. It returns
// the job id as soon as the job is recorded; analysis runs in the
// background. A rejected submission creates no job.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	payload, err := s.validate(req)
	if err != nil {
		return "", err
	}

	job, err := s.store.Create(ctx, req.JobID, payload)
	if err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}
	metrics.JobsSubmitted.Inc()

	if err := s.dispatcher.Dispatch(job); err != nil {
		// The job stays pending and is picked up by Pool.Recover on the next start.
		slog.Error("dispatching job", "job_id", job.ID, "error", err)
	}

	slog.Info("job submitted", "job_id", job.ID, "files", len(payload.Attachments), "history", len(payload.History))
	return job.ID, nil
}

func (s *Service) validate(req Request) (models.Payload, error) {
	if req.JobID != "" && !jobIDPattern.MatchString(req.JobID) {
		return models.Payload{}, fmt.Errorf("%w: must be 1-128 characters of letters, digits, '.', '_', ':' or '-'", ErrInvalidJobID)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && len(req.Files) == 0 {
		return models.Payload{}, ErrEmptyRequest
	}

	if s.maxFiles > 0 && len(req.Files) > s.maxFiles {
		return models.Payload{}, fmt.Errorf("%w: got %d, at most %d allowed", ErrTooManyFiles, len(req.Files), s.maxFiles)
	}

	history, err := normalizeHistory(req.History)
	if err != nil {
		return models.Payload{}, err
	}

	attachments := make([]models.Attachment, 0, len(req.Files))
	for i, f := range req.Files {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("file-%d", i+1)
		}
		if s.maxFileBytes > 0 && int64(len(f.Data)) > s.maxFileBytes {
			return models.Payload{}, &FileTooLargeError{Filename: name, Size: int64(len(f.Data)), Limit: s.maxFileBytes}
		}
		mediaType := ResolveMediaType(name, f.ContentType, f.Data)
		if !s.allow.Allows(mediaType) {
			return models.Payload{}, &UnsupportedMediaError{Filename: name, MediaType: mediaType}
		}
		attachments = append(attachments, models.Attachment{Name: name, MediaType: mediaType, Data: f.Data})
	}

	return models.Payload{Prompt: prompt, Attachments: attachments, History: history}, nil
}

// normalizeHistory maps roles to "user" and "model" and drops empty turns.
func normalizeHistory(turns []models.Turn) ([]models.Turn, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]models.Turn, 0, len(turns))
	for i, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		var role string
		switch strings.ToLower(strings.TrimSpace(t.Role)) {
		case "user":
			role = "user"
		case "model", "assistant":
			role = "model"
		default:
			return nil, fmt.Errorf("%w: turn %d has role %q, want user or model", ErrInvalidHistory, i, t.Role)
		}
		out = append(out, models.Turn{Role: role, Text: text})
	}
	return out, nil
}
