package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiranshivaraju/casebridge/internal/ai/openai"
	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(content, finish string) map[string]any {
	return map[string]any{
		"choices": []any{map[string]any{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	}
}

func TestAnalyze_BuildsChatRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		require.Len(t, body.Messages, 3)
		assert.Equal(t, "user", body.Messages[0].Role)
		assert.Equal(t, "assistant", body.Messages[1].Role)
		assert.JSONEq(t, `"earlier answer"`, string(body.Messages[1].Content))

		var parts []map[string]any
		require.NoError(t, json.Unmarshal(body.Messages[2].Content, &parts))
		require.Len(t, parts, 3)
		assert.Equal(t, "text", parts[0]["type"])
		assert.Equal(t, "image_url", parts[1]["type"])
		url := parts[1]["image_url"].(map[string]any)["url"].(string)
		assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
		assert.Equal(t, "file", parts[2]["type"])
		assert.Equal(t, "case.pdf", parts[2]["file"].(map[string]any)["filename"])

		json.NewEncoder(w).Encode(reply("the report", "stop"))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o"})
	text, err := p.Analyze(context.Background(), models.AnalysisRequest{
		Prompt: "describe",
		Attachments: []models.Attachment{
			{Name: "photo.jpg", MediaType: "image/jpeg", Data: []byte{0xff, 0xd8}},
			{Name: "case.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.7")},
		},
		History: []models.Turn{{Role: "user", Text: "earlier"}, {Role: "model", Text: "earlier answer"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the report", text)
}

func TestAnalyze_UnsupportedAttachment(t *testing.T) {
	p := openai.NewProvider(config.OpenAIConfig{BaseURL: "http://127.0.0.1:1", APIKey: "sk", Model: "gpt-4o"})
	_, err := p.Analyze(context.Background(), models.AnalysisRequest{
		Prompt:      "describe",
		Attachments: []models.Attachment{{Name: "clip.mp4", MediaType: "video/mp4", Data: []byte{0}}},
	})

	var aerr *models.AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, models.AnalysisMalformedInput, aerr.Kind)
	assert.Contains(t, aerr.Error(), "clip.mp4")
}

func TestAnalyze_ContentFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(reply("", "content_filter"))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "sk", Model: "gpt-4o"})
	_, err := p.Analyze(context.Background(), models.AnalysisRequest{Prompt: "x"})

	var aerr *models.AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, models.AnalysisContentFiltered, aerr.Kind)
}

func TestAnalyze_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := openai.New(openai.Options{Name: "vllm", BaseURL: srv.URL, Model: "llava"})
	_, err := p.Analyze(context.Background(), models.AnalysisRequest{Prompt: "x"})

	var aerr *models.AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, models.AnalysisTransient, aerr.Kind)
	assert.Equal(t, "vllm", aerr.Provider)
}

func TestNew_NoAPIKeyOmitsAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(reply("ok", "stop"))
	}))
	defer srv.Close()

	p := openai.New(openai.Options{Name: "vllm", BaseURL: srv.URL, Model: "llava"})
	text, err := p.Analyze(context.Background(), models.AnalysisRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, "vllm", p.Name())
}
