package ollama

import (
	"context"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/casebridge/internal/ai/transport"
	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// Provider implements models.AIProvider using Ollama's /api/chat endpoint.
// Only image attachments are forwarded; Ollama has no document input.
type Provider struct {
	cfg    config.OllamaConfig
	client *transport.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: transport.New("ollama", cfg.BaseURL, nil),
	}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	messages := make([]message, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := "assistant"
		if turn.Role == "user" {
			role = "user"
		}
		messages = append(messages, message{Role: role, Content: turn.Text})
	}

	final := message{Role: "user", Content: req.Prompt}
	for _, a := range req.Attachments {
		if !strings.HasPrefix(a.MediaType, "image/") {
			return "", models.NewAnalysisError(models.AnalysisMalformedInput, p.Name(), nil,
				"attachment %q: media type %s is not supported by this provider", a.Name, a.MediaType)
		}
		final.Images = append(final.Images, a.Data)
	}
	messages = append(messages, final)

	var resp chatResponse
	err := p.client.DoJSON(ctx, http.MethodPost, "/api/chat", chatRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   false,
	}, &resp)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", models.NewAnalysisError(models.AnalysisTransient, p.Name(), nil, "empty response (done reason %q)", resp.DoneReason)
	}
	return text, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Images are base64-encoded by encoding/json.
type message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  [][]byte `json:"images,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason string `json:"done_reason"`
}

var _ models.AIProvider = (*Provider)(nil)
