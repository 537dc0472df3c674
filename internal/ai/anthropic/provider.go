package anthropic

import (
	"context"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/casebridge/internal/ai/transport"
	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

const apiVersion = "2023-06-01"

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *transport.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	header := http.Header{}
	header.Set("X-Api-Key", cfg.APIKey)
	header.Set("Anthropic-Version", apiVersion)
	return &Provider{
		cfg:    cfg,
		client: transport.New("anthropic", cfg.BaseURL, header),
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return "", err
	}

	var resp messagesResponse
	if err := p.client.DoJSON(ctx, http.MethodPost, "/v1/messages", body, &resp); err != nil {
		return "", err
	}

	if resp.StopReason == "refusal" {
		return "", models.NewAnalysisError(models.AnalysisContentFiltered, p.Name(), nil, "model refused the request")
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", models.NewAnalysisError(models.AnalysisTransient, p.Name(), nil, "empty response (stop reason %q)", resp.StopReason)
	}
	return text, nil
}

func (p *Provider) buildRequest(req models.AnalysisRequest) (*messagesRequest, error) {
	messages := make([]message, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, message{
			Role:    historyRole(turn.Role),
			Content: []block{{Type: "text", Text: turn.Text}},
		})
	}

	blocks := make([]block, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		var kind string
		switch {
		case strings.HasPrefix(a.MediaType, "image/"):
			kind = "image"
		case a.MediaType == "application/pdf":
			kind = "document"
		default:
			return nil, models.NewAnalysisError(models.AnalysisMalformedInput, p.Name(), nil,
				"attachment %q: media type %s is not supported by this provider", a.Name, a.MediaType)
		}
		blocks = append(blocks, block{
			Type:   kind,
			Source: &source{Type: "base64", MediaType: a.MediaType, Data: a.Data},
		})
	}
	blocks = append(blocks, block{Type: "text", Text: req.Prompt})
	messages = append(messages, message{Role: "user", Content: blocks})

	return &messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		Messages:  messages,
	}, nil
}

func historyRole(role string) string {
	if role == "user" {
		return "user"
	}
	return "assistant"
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type block struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Source *source `json:"source,omitempty"`
}

type source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

var _ models.AIProvider = (*Provider)(nil)
