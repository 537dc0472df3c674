// Package prompt renders the text sent to the AI provider for a case.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/kiranshivaraju/casebridge/internal/extract"
)

// DefaultInstructions frames the model as a case analyst writing for a
// parent. AI_SYSTEM_PROMPT replaces it.
const DefaultInstructions = `You are an experienced medical analyst (autism spectrum disorders, neurology).
Analyse the case materials below for a parent.

Answer point by point:
1. Diagnoses (in plain words).
2. Medications (drug groups).
3. Important (risks, effectiveness).`

const caseTemplate = `{{.Instructions}}
{{- if .Request}}

Request:
"{{.Request}}"
{{- end}}
{{- range .Documents}}

Document {{.Name}}{{if .Truncated}} (truncated){{end}}:
"""
{{.Text}}
"""
{{- end}}
{{- if .Attachments}}

Attached files: {{join .Attachments ", "}}
{{- end}}
`

// Builder renders prompts from extracted input.
type Builder struct {
	instructions string
	tmpl         *template.Template
}

// New creates a Builder. Empty instructions select DefaultInstructions.
func New(instructions string) (*Builder, error) {
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	tmpl, err := template.New("case").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(caseTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	return &Builder{instructions: strings.TrimSpace(instructions), tmpl: tmpl}, nil
}

type caseData struct {
	Instructions string
	Request      string
	Documents    []extract.Document
	Attachments  []string
}

// Build renders the prompt for in. Binary attachments are listed by name;
// their content travels to the provider separately.
func (b *Builder) Build(in *extract.Input) (string, error) {
	data := caseData{
		Instructions: b.instructions,
		Request:      in.Prompt,
		Documents:    in.Documents,
	}
	for _, a := range in.Attachments {
		data.Attachments = append(data.Attachments, a.Name)
	}

	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
