package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing and local runs.
type MockProvider struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.AnalysisRequest) (string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return "", nil
}

// NewMockProvider returns a MockProvider that echoes a short report
// describing what it was given.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, req models.AnalysisRequest) (string, error) {
			names := make([]string, len(req.Attachments))
			for i, a := range req.Attachments {
				names[i] = a.Name
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Mock analysis of %d attachment(s)", len(req.Attachments))
			if len(names) > 0 {
				fmt.Fprintf(&sb, " (%s)", strings.Join(names, ", "))
			}
			fmt.Fprintf(&sb, " with %d prior turn(s).\n", len(req.History))
			sb.WriteString("1. Diagnoses: none identified by the mock provider.\n")
			sb.WriteString("2. Medications: none identified by the mock provider.\n")
			sb.WriteString("3. Important: this report was generated for testing.")
			return sb.String(), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.AnalysisRequest) (string, error) {
			<-ctx.Done()
			return "", models.NewAnalysisError(models.AnalysisTimeout, "mock-timeout", ctx.Err(), "analysis deadline exceeded")
		},
	}
}

// NewPanickingProvider returns a MockProvider whose Analyze panics with v.
func NewPanickingProvider(v any) *MockProvider {
	return &MockProvider{
		Name_: "mock-panic",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (string, error) {
			panic(v)
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
