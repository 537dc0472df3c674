// Package extract prepares a job payload for analysis. Hooks run in order
// over an Input before the prompt is rendered: text attachments are decoded
// into Documents and everything else is forwarded to the provider as-is.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// Document is the decoded text of a text attachment.
type Document struct {
	Name      string
	Text      string
	Truncated bool
}

// Input is the analysis input as it moves through the hook chain.
type Input struct {
	Prompt      string
	Documents   []Document
	Attachments []models.Attachment
	History     []models.Turn
}

// FromPayload builds an Input from a job payload. Attachment slices are
// copied; the bytes are shared and must not be modified by hooks.
func FromPayload(p models.Payload) *Input {
	return &Input{
		Prompt:      strings.TrimSpace(p.Prompt),
		Attachments: append([]models.Attachment(nil), p.Attachments...),
		History:     append([]models.Turn(nil), p.History...),
	}
}

// Hook transforms an Input in place.
type Hook interface {
	Name() string
	Apply(ctx context.Context, in *Input) error
}

// Chain runs hooks in order and stops at the first error.
type Chain []Hook

func (c Chain) Run(ctx context.Context, in *Input) error {
	for _, h := range c {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.Apply(ctx, in); err != nil {
			return fmt.Errorf("%s: %w", h.Name(), err)
		}
	}
	return nil
}

// Default returns the standard chain: decode text attachments, then cap
// each document at cfg.MaxDocumentBytes.
func Default(cfg config.ExtractConfig) (Chain, error) {
	text, err := NewTextDocuments(cfg.FallbackCharset)
	if err != nil {
		return nil, err
	}
	return Chain{text, Limit(cfg.MaxDocumentBytes)}, nil
}

// IsText reports whether attachments of mediaType are decoded into the prompt
// rather than sent to the provider as binary parts.
func IsText(mediaType string) bool {
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/json", mediaType == "application/xml":
		return true
	}
	return false
}
