package models_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/casebridge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to models.Status
		want     bool
	}{
		{models.JobStatusPending, models.JobStatusProcessing, true},
		{models.JobStatusProcessing, models.JobStatusCompleted, true},
		{models.JobStatusProcessing, models.JobStatusFailed, true},
		{models.JobStatusPending, models.JobStatusCompleted, false},
		{models.JobStatusPending, models.JobStatusFailed, false},
		{models.JobStatusProcessing, models.JobStatusPending, false},
		{models.JobStatusCompleted, models.JobStatusFailed, false},
		{models.JobStatusCompleted, models.JobStatusProcessing, false},
		{models.JobStatusFailed, models.JobStatusCompleted, false},
		{models.JobStatusFailed, models.JobStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, models.JobStatusPending.IsTerminal())
	assert.False(t, models.JobStatusProcessing.IsTerminal())
	assert.True(t, models.JobStatusCompleted.IsTerminal())
	assert.True(t, models.JobStatusFailed.IsTerminal())
}

func TestStatus_IsValid(t *testing.T) {
	assert.True(t, models.JobStatusPending.IsValid())
	assert.False(t, models.Status("queued").IsValid())
	assert.False(t, models.Status("").IsValid())
}

func TestJob_CloneIsDeep(t *testing.T) {
	result := "report"
	now := time.Now()
	job := &models.Job{
		ID:     "job-1",
		Status: models.JobStatusCompleted,
		Payload: models.Payload{
			Prompt:      "describe file",
			Attachments: []models.Attachment{{Name: "notes.txt", MediaType: "text/plain", Data: []byte("abc")}},
			History:     []models.Turn{{Role: "user", Text: "hi"}},
		},
		Result:      &result,
		CompletedAt: &now,
	}

	clone := job.Clone()
	require.NotNil(t, clone)

	clone.Payload.Attachments[0].Data[0] = 'z'
	clone.Payload.History[0].Text = "changed"
	*clone.Result = "mutated"
	*clone.CompletedAt = now.Add(time.Hour)

	assert.Equal(t, []byte("abc"), job.Payload.Attachments[0].Data)
	assert.Equal(t, "hi", job.Payload.History[0].Text)
	assert.Equal(t, "report", *job.Result)
	assert.True(t, job.CompletedAt.Equal(now))
}

func TestJob_CloneNil(t *testing.T) {
	var job *models.Job
	assert.Nil(t, job.Clone())
}

func TestAnalysisError_Retryable(t *testing.T) {
	tests := map[models.AnalysisErrorKind]bool{
		models.AnalysisRateLimited:     true,
		models.AnalysisTransient:       true,
		models.AnalysisTimeout:         true,
		models.AnalysisContentFiltered: false,
		models.AnalysisMalformedInput:  false,
	}
	for kind, want := range tests {
		err := models.NewAnalysisError(kind, "gemini", nil, "boom")
		assert.Equal(t, want, err.Retryable(), kind)
		assert.Equal(t, "gemini: "+string(kind)+": boom", err.Error())
	}
}
