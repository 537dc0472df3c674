package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/casebridge/internal/ai/gemini"
	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() models.AnalysisRequest {
	return models.AnalysisRequest{
		Prompt: "describe file",
		Attachments: []models.Attachment{
			{Name: "scan.png", MediaType: "image/png", Data: []byte("png-bytes")},
		},
		History: []models.Turn{
			{Role: "user", Text: "first question"},
			{Role: "assistant", Text: "first answer"},
		},
	}
}

func okResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content":      map[string]any{"parts": []any{map[string]any{"text": text}}},
				"finishReason": "STOP",
			},
		},
	}
}

func TestSelectModel(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{"prefers 1.5 flash", []string{"models/gemini-pro", "models/gemini-2.0-flash", "models/gemini-1.5-flash"}, "models/gemini-1.5-flash"},
		{"any flash", []string{"models/gemini-pro", "models/gemini-2.0-flash"}, "models/gemini-2.0-flash"},
		{"pro", []string{"models/embedding-001", "models/gemini-1.5-pro"}, "models/gemini-1.5-pro"},
		{"first listed", []string{"models/other-a", "models/other-b"}, "models/other-a"},
		{"empty", nil, gemini.FallbackModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gemini.SelectModel(tt.names))
		})
	}
}

func TestAnalyze_AutoModel(t *testing.T) {
	var listCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gm-key", r.Header.Get("X-Goog-Api-Key"))

		switch r.URL.Path {
		case "/v1beta/models":
			listCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"models": []any{
					map[string]any{"name": "models/embedding-001", "supportedGenerationMethods": []string{"embedContent"}},
					map[string]any{"name": "models/gemini-1.5-flash", "supportedGenerationMethods": []string{"generateContent"}},
				},
			})
		case "/v1beta/models/gemini-1.5-flash:generateContent":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

			contents := body["contents"].([]any)
			require.Len(t, contents, 3)
			assert.Equal(t, "user", contents[0].(map[string]any)["role"])
			assert.Equal(t, "model", contents[1].(map[string]any)["role"])

			last := contents[2].(map[string]any)
			parts := last["parts"].([]any)
			require.Len(t, parts, 2)
			inline := parts[0].(map[string]any)["inline_data"].(map[string]any)
			assert.Equal(t, "image/png", inline["mime_type"])
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), inline["data"])
			assert.Equal(t, "describe file", parts[1].(map[string]any)["text"])

			json.NewEncoder(w).Encode(okResponse("  report text  "))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := gemini.NewProvider(config.GeminiConfig{BaseURL: srv.URL, APIKey: "gm-key", Model: "auto"})

	text, err := p.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "report text", text)

	_, err = p.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), listCalls.Load(), "model listing is resolved once")
}

func TestAnalyze_ListingFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1beta/models":
			w.WriteHeader(http.StatusInternalServerError)
		case "/v1beta/models/gemini-pro:generateContent":
			json.NewEncoder(w).Encode(okResponse("fallback report"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := gemini.NewProvider(config.GeminiConfig{BaseURL: srv.URL, APIKey: "k", Model: "auto"})
	text, err := p.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "fallback report", text)
}

func TestAnalyze_ListingFailureIsNotRetriedPerCall(t *testing.T) {
	var listCalls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1beta/models":
			listCalls.Add(1)
			<-release
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/v1beta/models/gemini-pro:generateContent":
			json.NewEncoder(w).Encode(okResponse("fallback report"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := gemini.NewProvider(config.GeminiConfig{BaseURL: srv.URL, APIKey: "k", Model: "auto"})

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Analyze(context.Background(), sampleRequest())
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return listCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	_, err := p.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), listCalls.Load(), "failed listing is not repeated within the retry interval")
	assert.Equal(t, gemini.FallbackModel, p.Model(context.Background()))
}

func TestAnalyze_ExplicitModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		json.NewEncoder(w).Encode(okResponse("ok"))
	}))
	defer srv.Close()

	p := gemini.NewProvider(config.GeminiConfig{BaseURL: srv.URL, APIKey: "k", Model: "gemini-2.0-flash"})
	assert.Equal(t, "models/gemini-2.0-flash", p.Model(context.Background()))

	_, err := p.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
}

func TestAnalyze_ContentFiltered(t *testing.T) {
	tests := map[string]map[string]any{
		"blocked prompt": {"promptFeedback": map[string]any{"blockReason": "SAFETY"}},
		"safety finish": {"candidates": []any{map[string]any{
			"content":      map[string]any{"parts": []any{}},
			"finishReason": "SAFETY",
		}}},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(body)
			}))
			defer srv.Close()

			p := gemini.NewProvider(config.GeminiConfig{BaseURL: srv.URL, APIKey: "k", Model: "gemini-pro"})
			_, err := p.Analyze(context.Background(), sampleRequest())

			var aerr *models.AnalysisError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, models.AnalysisContentFiltered, aerr.Kind)
			assert.False(t, aerr.Retryable())
		})
	}
}

func TestAnalyze_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	p := gemini.NewProvider(config.GeminiConfig{BaseURL: srv.URL, APIKey: "k", Model: "gemini-pro"})
	_, err := p.Analyze(context.Background(), sampleRequest())

	var aerr *models.AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, models.AnalysisRateLimited, aerr.Kind)
	assert.Contains(t, aerr.Error(), "Resource has been exhausted")
}
