package openai

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/casebridge/internal/ai/transport"
	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// Options configures a chat-completions client. vLLM and other
// OpenAI-compatible servers reuse this provider under their own name.
type Options struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// Provider implements models.AIProvider using the chat completions API.
type Provider struct {
	name   string
	model  string
	client *transport.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return New(Options{Name: "openai", BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model})
}

func New(opts Options) *Provider {
	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+opts.APIKey)
	}
	return &Provider{
		name:   opts.Name,
		model:  opts.Model,
		client: transport.New(opts.Name, opts.BaseURL, header),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := p.client.DoJSON(ctx, http.MethodPost, "/v1/chat/completions", body, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", models.NewAnalysisError(models.AnalysisTransient, p.name, nil, "response contained no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" || choice.Message.Refusal != "" {
		return "", models.NewAnalysisError(models.AnalysisContentFiltered, p.name, nil, "response refused: %s", choice.Message.Refusal)
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", models.NewAnalysisError(models.AnalysisTransient, p.name, nil, "empty response (finish reason %q)", choice.FinishReason)
	}
	return text, nil
}

func (p *Provider) buildRequest(req models.AnalysisRequest) (*chatRequest, error) {
	messages := make([]message, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, message{Role: historyRole(turn.Role), Content: turn.Text})
	}

	parts := []contentPart{{Type: "text", Text: req.Prompt}}
	for _, a := range req.Attachments {
		switch {
		case strings.HasPrefix(a.MediaType, "image/"):
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURL(a)}})
		case a.MediaType == "application/pdf":
			parts = append(parts, contentPart{Type: "file", File: &fileData{Filename: a.Name, FileData: dataURL(a)}})
		default:
			return nil, models.NewAnalysisError(models.AnalysisMalformedInput, p.name, nil,
				"attachment %q: media type %s is not supported by this provider", a.Name, a.MediaType)
		}
	}
	messages = append(messages, message{Role: "user", Content: parts})

	return &chatRequest{Model: p.model, Messages: messages}, nil
}

func dataURL(a models.Attachment) string {
	return "data:" + a.MediaType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

func historyRole(role string) string {
	if role == "user" {
		return "user"
	}
	return "assistant"
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

// Content is a string for history turns and []contentPart for the request turn.
type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
	File     *fileData `json:"file,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type fileData struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

var _ models.AIProvider = (*Provider)(nil)
