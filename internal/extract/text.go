package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/casebridge/pkg/models"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TextDocuments moves text attachments out of Input.Attachments and into
// Input.Documents.
type TextDocuments struct {
	fallback encoding.Encoding
}

// NewTextDocuments returns a hook that decodes text attachments. Input with a
// BOM is decoded accordingly, valid UTF-8 is kept, and anything else is
// decoded with the charset named by fallback (an HTML encoding label).
func NewTextDocuments(fallback string) (*TextDocuments, error) {
	enc, err := htmlindex.Get(fallback)
	if err != nil {
		return nil, fmt.Errorf("unknown fallback charset %q: %w", fallback, err)
	}
	return &TextDocuments{fallback: enc}, nil
}

func (h *TextDocuments) Name() string { return "text_documents" }

func (h *TextDocuments) Apply(_ context.Context, in *Input) error {
	kept := make([]models.Attachment, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		if !IsText(a.MediaType) {
			kept = append(kept, a)
			continue
		}
		text, err := h.decode(a.Data)
		if err != nil {
			return fmt.Errorf("decoding %q: %w", a.Name, err)
		}
		if text == "" {
			continue
		}
		in.Documents = append(in.Documents, Document{Name: a.Name, Text: text})
	}
	in.Attachments = kept
	return nil
}

func (h *TextDocuments) decode(data []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), data)
	if err != nil {
		return "", err
	}
	// BOM-prefixed input always comes back as valid UTF-8.
	if !utf8.Valid(out) {
		if out, err = h.fallback.NewDecoder().Bytes(data); err != nil {
			return "", err
		}
	}

	s := norm.NFC.String(string(out))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s), nil
}

type limit struct {
	max int
}

// Limit returns a hook that truncates each document to at most max bytes,
// cutting on a rune boundary.
func Limit(max int) Hook {
	return &limit{max: max}
}

func (l *limit) Name() string { return "limit" }

func (l *limit) Apply(_ context.Context, in *Input) error {
	for i := range in.Documents {
		d := &in.Documents[i]
		if len(d.Text) <= l.max {
			continue
		}
		cut := l.max
		for cut > 0 && !utf8.RuneStart(d.Text[cut]) {
			cut--
		}
		d.Text = d.Text[:cut]
		d.Truncated = true
	}
	return nil
}

var _ Hook = (*TextDocuments)(nil)
