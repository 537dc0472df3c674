// Package models contains shared data models used across the casebridge codebase.
package models

import (
	"context"
	"fmt"
)

// AIProvider is the external analysis collaborator. The job pipeline only
// ever talks to this interface; never call a specific provider directly.
type AIProvider interface {
	// Analyze turns a prompt plus attachments into generated text.
	// Failures are returned as *AnalysisError.
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string
}

// AnalysisRequest is the input to a single analysis call.
type AnalysisRequest struct {
	Prompt      string
	Attachments []Attachment // in submission order
	History     []Turn
}

// AnalysisErrorKind classifies collaborator failures.
type AnalysisErrorKind string

const (
	AnalysisRateLimited     AnalysisErrorKind = "rate_limited"
	AnalysisContentFiltered AnalysisErrorKind = "content_filtered"
	AnalysisMalformedInput  AnalysisErrorKind = "malformed_input"
	AnalysisTransient       AnalysisErrorKind = "transient"
	AnalysisTimeout         AnalysisErrorKind = "timeout"
)

// AnalysisError is a structured failure from an AIProvider.
type AnalysisError struct {
	Kind     AnalysisErrorKind
	Provider string
	Message  string
	Err      error
}

func (e *AnalysisError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same case may succeed.
func (e *AnalysisError) Retryable() bool {
	switch e.Kind {
	case AnalysisRateLimited, AnalysisTransient, AnalysisTimeout:
		return true
	}
	return false
}

// NewAnalysisError builds an AnalysisError with a formatted message.
func NewAnalysisError(kind AnalysisErrorKind, provider string, err error, format string, args ...any) *AnalysisError {
	return &AnalysisError{
		Kind:     kind,
		Provider: provider,
		Message:  fmt.Sprintf(format, args...),
		Err:      err,
	}
}
