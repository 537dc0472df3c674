package prompt_test

import (
	"strings"
	"testing"

	"github.com/kiranshivaraju/casebridge/internal/extract"
	"github.com/kiranshivaraju/casebridge/internal/prompt"
	"github.com/kiranshivaraju/casebridge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Default(t *testing.T) {
	b, err := prompt.New("")
	require.NoError(t, err)

	out, err := b.Build(&extract.Input{
		Prompt:      "describe file",
		Documents:   []extract.Document{{Name: "notes.txt", Text: "F84.0, risperidone"}},
		Attachments: []models.Attachment{{Name: "scan.png"}, {Name: "report.pdf"}},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, prompt.DefaultInstructions))
	assert.Contains(t, out, "Request:\n\"describe file\"")
	assert.Contains(t, out, "Document notes.txt:\n\"\"\"\nF84.0, risperidone\n\"\"\"")
	assert.Contains(t, out, "Attached files: scan.png, report.pdf")
}

func TestBuild_OmitsEmptySections(t *testing.T) {
	b, err := prompt.New("")
	require.NoError(t, err)

	out, err := b.Build(&extract.Input{})
	require.NoError(t, err)
	assert.Equal(t, prompt.DefaultInstructions, out)
}

func TestBuild_TruncatedDocument(t *testing.T) {
	b, err := prompt.New("")
	require.NoError(t, err)

	out, err := b.Build(&extract.Input{Documents: []extract.Document{{Name: "long.txt", Text: "abc", Truncated: true}}})
	require.NoError(t, err)
	assert.Contains(t, out, "Document long.txt (truncated):")
}

func TestNew_CustomInstructions(t *testing.T) {
	b, err := prompt.New("  Summarise the case in one sentence.\n")
	require.NoError(t, err)

	out, err := b.Build(&extract.Input{Prompt: "what now?"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Summarise the case in one sentence."))
	assert.NotContains(t, out, "Diagnoses")
	assert.Contains(t, out, "what now?")
}

func TestBuild_DoesNotInterpretUserText(t *testing.T) {
	b, err := prompt.New("")
	require.NoError(t, err)

	out, err := b.Build(&extract.Input{Prompt: "{{.Instructions}}"})
	require.NoError(t, err)
	assert.Contains(t, out, "\"{{.Instructions}}\"")
}
