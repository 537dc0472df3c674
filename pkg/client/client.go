// Package client is a Go client for the casebridge job API. It submits a
// case and polls for its report.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// codeJobNotFound is the error code the status endpoint uses for unknown ids.
const codeJobNotFound = "JOB_NOT_FOUND"

// Sentinel errors for client failures.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrTimedOut    = errors.New("timed out waiting for job")
)

// TimeoutError is returned by Wait when the budget runs out before the job
// reaches a terminal status. The job may still complete; LastStatus is the
// status observed by the final successful poll, or "" if none succeeded.
// It matches ErrTimedOut.
type TimeoutError struct {
	JobID      string
	LastStatus models.Status
	Waited     time.Duration
}

func (e *TimeoutError) Error() string {
	status := string(e.LastStatus)
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("job %s still %s after %s; it may yet complete", e.JobID, status, e.Waited.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimedOut
}

// APIError is a non-2xx response carrying the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("casebridge: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// File is one attachment to upload.
type File struct {
	Name        string
	ContentType string // optional; the server sniffs when empty
	Data        []byte
}

// SubmitRequest is a case to analyze.
type SubmitRequest struct {
	JobID   string // optional idempotency key
	Prompt  string
	Files   []File
	History []models.Turn
}

// JobStatus is a snapshot returned by the status endpoint.
type JobStatus struct {
	JobID     string        `json:"job_id"`
	Status    models.Status `json:"status"`
	Result    *string       `json:"result,omitempty"`
	Error     *string       `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// WaitOptions bounds Wait. Zero values select the defaults.
type WaitOptions struct {
	Timeout         time.Duration // overall budget, default 15m
	InitialInterval time.Duration // first delay between polls, default 500ms
	MaxInterval     time.Duration // cap on the delay, default 10s
	// OnPoll, if set, is called with every successfully observed status.
	OnPoll func(JobStatus)
}

const (
	defaultWaitTimeout     = 15 * time.Minute
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// Client talks to a casebridge server.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit uploads a case and returns its job id. Validation failures are
// returned as *APIError.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)

	if req.Prompt != "" {
		if err := mpw.WriteField("prompt", req.Prompt); err != nil {
			return "", fmt.Errorf("writing prompt: %w", err)
		}
	}
	if req.JobID != "" {
		if err := mpw.WriteField("job_id", req.JobID); err != nil {
			return "", fmt.Errorf("writing job id: %w", err)
		}
	}
	if len(req.History) > 0 {
		h, err := json.Marshal(req.History)
		if err != nil {
			return "", fmt.Errorf("encoding history: %w", err)
		}
		if err := mpw.WriteField("history", string(h)); err != nil {
			return "", fmt.Errorf("writing history: %w", err)
		}
	}
	for _, f := range req.Files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		if f.ContentType != "" {
			hdr.Set("Content-Type", f.ContentType)
		}
		part, err := mpw.CreatePart(hdr)
		if err != nil {
			return "", fmt.Errorf("writing %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	if err := mpw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/jobs", &body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mpw.FormDataContentType())

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(httpReq, http.StatusAccepted, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// Status fetches the current status of a job. An unknown id returns
// ErrJobNotFound. A 404 without the JOB_NOT_FOUND code (a wrong base URL,
// a proxy) is returned as an *APIError.
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	u := fmt.Sprintf("%s/api/v1/jobs/%s", c.baseURL, url.PathEscape(jobID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	var out JobStatus
	if err := c.do(httpReq, http.StatusOK, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound && apiErr.Code == codeJobNotFound {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return &out, nil
}

// Wait polls until the job is completed or failed and returns the terminal
// status. The delay between polls grows exponentially up to MaxInterval.
// Transient poll failures are retried within the budget.
//
// Wait returns ErrJobNotFound for an unknown id and *TimeoutError when the
// budget runs out. Cancelling ctx returns ctx.Err(). A failed job is not an
// error: inspect the returned status.
func (c *Client) Wait(ctx context.Context, jobID string, opts WaitOptions) (*JobStatus, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWaitTimeout
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxInterval = opts.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	start := time.Now()
	deadline := start.Add(opts.Timeout)
	var last models.Status

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		pollCtx, cancel := context.WithDeadline(ctx, deadline)
		st, err := c.Status(pollCtx, jobID)
		cancel()

		switch {
		case err == nil:
			last = st.Status
			if opts.OnPoll != nil {
				opts.OnPoll(*st)
			}
			if st.Status.IsTerminal() {
				return st, nil
			}
		case errors.Is(err, ErrJobNotFound):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case !retryable(err):
			return nil, err
		}

		wait := b.NextBackOff()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{JobID: jobID, LastStatus: last, Waited: time.Since(start)}
		}
		if wait > remaining {
			wait = remaining
		}
		timer.Reset(wait)
	}
}

// retryable reports whether a failed poll is worth repeating: transport
// errors and 5xx/429 responses are, client errors are not.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &env) == nil && env.Error.Code != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}

	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
