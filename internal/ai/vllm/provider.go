// Package vllm serves models through a vLLM server's OpenAI-compatible API.
package vllm

import (
	"github.com/kiranshivaraju/casebridge/internal/ai/openai"
	"github.com/kiranshivaraju/casebridge/internal/config"
)

func NewProvider(cfg config.VLLMConfig) *openai.Provider {
	return openai.New(openai.Options{
		Name:    "vllm",
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
}
