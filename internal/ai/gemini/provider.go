package gemini

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/casebridge/internal/ai/transport"
	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/pkg/models"
	"golang.org/x/sync/singleflight"
)

const (
	// AutoModel asks the provider to pick a model from the models listing.
	AutoModel = "auto"
	// FallbackModel is used when the listing is unavailable or empty.
	FallbackModel = "models/gemini-pro"

	generateMethod = "generateContent"

	// listRetryInterval is how long FallbackModel is used after a failed
	// listing before the listing is tried again.
	listRetryInterval = time.Minute
)

// Provider implements models.AIProvider using the Gemini generateContent API.
type Provider struct {
	cfg    config.GeminiConfig
	client *transport.Client

	mu            sync.Mutex
	model         string    // resolved model resource name, "models/..."
	fallbackUntil time.Time // FallbackModel is used until then

	listing singleflight.Group
}

func NewProvider(cfg config.GeminiConfig) *Provider {
	p := &Provider{
		cfg:    cfg,
		client: transport.New("gemini", cfg.BaseURL, http.Header{"X-Goog-Api-Key": {cfg.APIKey}}),
	}
	if cfg.Model != "" && cfg.Model != AutoModel {
		p.model = modelResource(cfg.Model)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	model := p.resolveModel(ctx)

	var resp generateResponse
	path := "/v1beta/" + model + ":" + generateMethod
	if err := p.client.DoJSON(ctx, http.MethodPost, path, buildRequest(req), &resp); err != nil {
		return "", err
	}
	return p.extractText(resp)
}

// Model returns the model that Analyze will use, resolving it if needed.
func (p *Provider) Model(ctx context.Context) string {
	return p.resolveModel(ctx)
}

// resolveModel returns the configured model or, for "auto", picks one from
// the listing. Concurrent callers share one listing request. A successful
// pick is cached for good; a failed listing pins FallbackModel for
// listRetryInterval.
func (p *Provider) resolveModel(ctx context.Context) string {
	p.mu.Lock()
	if p.model != "" {
		model := p.model
		p.mu.Unlock()
		return model
	}
	if time.Now().Before(p.fallbackUntil) {
		p.mu.Unlock()
		return FallbackModel
	}
	p.mu.Unlock()

	v, _, _ := p.listing.Do("models", func() (any, error) {
		names, err := p.listModels(ctx)

		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil || len(names) == 0 {
			p.fallbackUntil = time.Now().Add(listRetryInterval)
			return FallbackModel, nil
		}
		p.model = SelectModel(names)
		return p.model, nil
	})
	return v.(string)
}

func (p *Provider) listModels(ctx context.Context) ([]string, error) {
	var names []string
	pageToken := ""
	for {
		path := "/v1beta/models?pageSize=100"
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var resp listModelsResponse
		if err := p.client.DoJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Models {
			for _, method := range m.SupportedGenerationMethods {
				if method == generateMethod {
					names = append(names, m.Name)
					break
				}
			}
		}
		if resp.NextPageToken == "" {
			return names, nil
		}
		pageToken = resp.NextPageToken
	}
}

// SelectModel picks the preferred model from names: a 1.5 flash model, then
// any flash model, then any pro model, then the first listed.
func SelectModel(names []string) string {
	if len(names) == 0 {
		return FallbackModel
	}
	preferences := []func(string) bool{
		func(n string) bool { return strings.Contains(n, "flash") && strings.Contains(n, "1.5") },
		func(n string) bool { return strings.Contains(n, "flash") },
		func(n string) bool { return strings.Contains(n, "pro") },
	}
	for _, match := range preferences {
		for _, n := range names {
			if match(n) {
				return n
			}
		}
	}
	return names[0]
}

func (p *Provider) extractText(resp generateResponse) (string, error) {
	if reason := resp.PromptFeedback.BlockReason; reason != "" {
		return "", models.NewAnalysisError(models.AnalysisContentFiltered, p.Name(), nil, "prompt blocked: %s", reason)
	}
	if len(resp.Candidates) == 0 {
		return "", models.NewAnalysisError(models.AnalysisTransient, p.Name(), nil, "response contained no candidates")
	}

	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "RECITATION":
		return "", models.NewAnalysisError(models.AnalysisContentFiltered, p.Name(), nil, "response blocked: %s", cand.FinishReason)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", models.NewAnalysisError(models.AnalysisTransient, p.Name(), nil, "empty response (finish reason %q)", cand.FinishReason)
	}
	return text, nil
}

func buildRequest(req models.AnalysisRequest) generateRequest {
	contents := make([]content, 0, len(req.History)+1)
	for _, turn := range req.History {
		contents = append(contents, content{
			Role:  historyRole(turn.Role),
			Parts: []part{{Text: turn.Text}},
		})
	}

	parts := make([]part, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		parts = append(parts, part{InlineData: &inlineData{MimeType: a.MediaType, Data: a.Data}})
	}
	parts = append(parts, part{Text: req.Prompt})
	contents = append(contents, content{Role: "user", Parts: parts})

	return generateRequest{Contents: contents}
}

func historyRole(role string) string {
	if role == "user" {
		return "user"
	}
	return "model"
}

func modelResource(name string) string {
	if strings.HasPrefix(name, "models/") {
		return name
	}
	return "models/" + name
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

// Data is base64-encoded by encoding/json.
type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type listModelsResponse struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}

var _ models.AIProvider = (*Provider)(nil)
