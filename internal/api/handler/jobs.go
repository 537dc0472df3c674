package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/casebridge/internal/api/middleware"
	"github.com/kiranshivaraju/casebridge/internal/api/response"
	"github.com/kiranshivaraju/casebridge/internal/metrics"
	"github.com/kiranshivaraju/casebridge/internal/store"
	"github.com/kiranshivaraju/casebridge/internal/submission"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// maxFieldBytes bounds a single non-file multipart field (prompt, history).
const maxFieldBytes = 1 << 20

var (
	errFieldTooLarge  = errors.New("form field too large")
	errInvalidRequest = errors.New("invalid request")
)

// Submitter defines the interface the submission handler depends on.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (string, error)
}

// JobGetter reads job snapshots.
type JobGetter interface {
	Get(ctx context.Context, id string) (*models.Job, error)
}

// JobView is the client-visible shape of a job.
type JobView struct {
	JobID     string        `json:"job_id"`
	Status    models.Status `json:"status"`
	Result    *string       `json:"result,omitempty"`
	Error     *string       `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewJobView projects a job. Result is only shown for completed jobs and
// Error only for failed ones.
func NewJobView(job *models.Job) JobView {
	v := JobView{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt.UTC(),
		UpdatedAt: job.UpdatedAt.UTC(),
	}
	switch job.Status {
	case models.JobStatusCompleted:
		v.Result = job.Result
	case models.JobStatusFailed:
		v.Error = job.Error
	}
	return v
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/jobs.
//
// The body is multipart/form-data. Every part with a filename is an
// attachment, in upload order. The fields prompt, job_id and history (a JSON
// array of {role, text}) are optional, but a submission needs a prompt or at
// least one file.
func NewSubmitHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readSubmission(r)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		id, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		response.Accepted(w, map[string]any{
			"job_id": id,
			"status": models.JobStatusPending,
		})
	}
}

func readSubmission(r *http.Request) (submission.Request, error) {
	var req submission.Request

	mr, err := r.MultipartReader()
	if err != nil {
		return req, fmt.Errorf("%w: expected a multipart/form-data body", errInvalidRequest)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return req, wrapBodyError(err)
		}

		if part.FileName() != "" {
			data, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return req, wrapBodyError(err)
			}
			req.Files = append(req.Files, submission.File{
				Name:        part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Data:        data,
			})
			continue
		}

		name := part.FormName()
		value, err := readField(part)
		part.Close()
		if err != nil {
			return req, err
		}

		switch name {
		case "prompt":
			req.Prompt = value
		case "job_id":
			req.JobID = value
		case "history":
			if value == "" {
				continue
			}
			if err := json.Unmarshal([]byte(value), &req.History); err != nil {
				return req, fmt.Errorf("%w: history must be a JSON array of {role, text}", errInvalidRequest)
			}
		}
	}
	return req, nil
}

func readField(part io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", wrapBodyError(err)
	}
	if len(b) > maxFieldBytes {
		return "", errFieldTooLarge
	}
	return string(b), nil
}

func wrapBodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return fmt.Errorf("%w: malformed multipart body: %v", errInvalidRequest, err)
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var (
		status  int
		code    string
		message string
		details any
	)

	var maxErr *http.MaxBytesError
	var mediaErr *submission.UnsupportedMediaError
	var sizeErr *submission.FileTooLargeError
	switch {
	case errors.As(err, &maxErr):
		status, code = http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
		message = fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit)
	case errors.Is(err, errFieldTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
		message = fmt.Sprintf("Form fields are limited to %d bytes", maxFieldBytes)
	case errors.As(err, &sizeErr):
		status, code = http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
		message = err.Error()
		details = map[string]any{"filename": sizeErr.Filename, "size": sizeErr.Size, "limit": sizeErr.Limit}
	case errors.Is(err, submission.ErrEmptyRequest):
		status, code = http.StatusBadRequest, "EMPTY_REQUEST"
		message = "Provide a prompt or at least one file"
	case errors.As(err, &mediaErr):
		status, code = http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA"
		message = err.Error()
		details = map[string]string{"filename": mediaErr.Filename, "media_type": mediaErr.MediaType}
	case errors.Is(err, store.ErrDuplicateID):
		status, code = http.StatusConflict, "DUPLICATE_JOB_ID"
		message = "A job with this id already exists"
	case errors.Is(err, submission.ErrInvalidJobID):
		status, code = http.StatusBadRequest, "INVALID_JOB_ID"
		message = err.Error()
	case errors.Is(err, submission.ErrTooManyFiles):
		status, code = http.StatusBadRequest, "TOO_MANY_FILES"
		message = err.Error()
	case errors.Is(err, errInvalidRequest), errors.Is(err, submission.ErrInvalidHistory):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
		message = err.Error()
	default:
		slog.Error("submitting job", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	metrics.SubmissionsRejected.WithLabelValues(code).Inc()
	response.Error(w, status, code, message, details)
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewStatusHandler(jobs JobGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		job, err := jobs.Get(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			reqID, _ := mw.GetRequestID(r)
			slog.Error("reading job", "job_id", jobID, "request_id", reqID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, NewJobView(job))
	}
}

// NewMediaTypesHandler returns an http.HandlerFunc for GET /api/v1/media-types.
func NewMediaTypesHandler(types []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, map[string]any{"media_types": types})
	}
}
