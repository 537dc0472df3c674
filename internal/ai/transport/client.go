// Package transport is the JSON-over-HTTP client shared by the AI providers.
// It maps transport failures and HTTP status codes onto models.AnalysisError.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// maxErrorBody caps how much of a failed response is read for the error message.
const maxErrorBody = 4 << 10

// Client talks to one provider's HTTP API. Deadlines come from the request
// context, so the underlying http.Client has no timeout of its own.
type Client struct {
	provider string
	baseURL  string
	header   http.Header
	client   *http.Client
}

// New creates a Client for provider rooted at baseURL. header is sent on
// every request.
func New(provider, baseURL string, header http.Header) *Client {
	if header == nil {
		header = http.Header{}
	}
	return &Client{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		header:   header,
		client:   &http.Client{},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// DoJSON sends in (if non-nil) as a JSON body to path and decodes a 2xx
// response into out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return models.NewAnalysisError(models.AnalysisMalformedInput, c.provider, err, "encoding request: %v", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return models.NewAnalysisError(models.AnalysisMalformedInput, c.provider, err, "building request: %v", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return c.classifyError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.statusError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.classifyError(ctx, ctxErr)
		}
		return models.NewAnalysisError(models.AnalysisTransient, c.provider, err, "decoding response: %v", err)
	}
	return nil
}

// classifyError maps transport-level errors to analysis error kinds.
func (c *Client) classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.NewAnalysisError(models.AnalysisTimeout, c.provider, err, "analysis deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return models.NewAnalysisError(models.AnalysisTransient, c.provider, err, "request cancelled")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewAnalysisError(models.AnalysisTimeout, c.provider, err, "provider timed out: %v", err)
	}
	return models.NewAnalysisError(models.AnalysisTransient, c.provider, err, "provider unreachable: %v", err)
}

func (c *Client) statusError(status int, body []byte) error {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}

	var kind models.AnalysisErrorKind
	switch {
	case status == http.StatusTooManyRequests:
		kind = models.AnalysisRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = models.AnalysisTimeout
	case status >= 500:
		kind = models.AnalysisTransient
	default:
		kind = models.AnalysisMalformedInput
	}
	return models.NewAnalysisError(kind, c.provider, nil, "status %d: %s", status, msg)
}

// errorMessage extracts a message from the error envelopes used by the
// supported providers, falling back to the raw body.
func errorMessage(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var detailed struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &detailed); err == nil && detailed.Message != "" {
			return detailed.Message
		}
		var plain string
		if err := json.Unmarshal(envelope.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}
	return strings.TrimSpace(string(body))
}
