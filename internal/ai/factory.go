package ai

import (
	"fmt"

	"github.com/kiranshivaraju/casebridge/internal/ai/anthropic"
	"github.com/kiranshivaraju/casebridge/internal/ai/gemini"
	"github.com/kiranshivaraju/casebridge/internal/ai/mock"
	"github.com/kiranshivaraju/casebridge/internal/ai/ollama"
	"github.com/kiranshivaraju/casebridge/internal/ai/openai"
	"github.com/kiranshivaraju/casebridge/internal/ai/vllm"
	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewProvider(cfg.Gemini), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of gemini, ollama, vllm, openai, anthropic, mock", cfg.Provider)
	}
}
