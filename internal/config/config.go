package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the casebridge server.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Worker     WorkerConfig
	Submission SubmissionConfig
	Extract    ExtractConfig
	AI         AIConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	MaxBodyBytes    int64
	RateLimitPerMin int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

type StoreConfig struct {
	Backend      string
	RetentionTTL time.Duration
	EvictEvery   time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type WorkerConfig struct {
	Concurrency     int
	AnalysisTimeout time.Duration
	LeaseTTL        time.Duration
	ReapInterval    time.Duration
}

type SubmissionConfig struct {
	MaxFiles     int
	MaxFileBytes int64
	MediaTypes   []string
}

// ExtractConfig controls how text attachments are folded into the prompt.
type ExtractConfig struct {
	MaxDocumentBytes int
	FallbackCharset  string
}

type AIConfig struct {
	Provider     string
	SystemPrompt string
	Gemini       GeminiConfig
	OpenAI       OpenAIConfig
	VLLM         VLLMConfig
	Anthropic    AnthropicConfig
	Ollama       OllamaConfig
}

type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type AnthropicConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

var validProviders = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"vllm":      true,
	"anthropic": true,
	"ollama":    true,
	"mock":      true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"redis":    true,
	"postgres": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("CASEBRIDGE_PORT", 8080),
			Env:             envString("CASEBRIDGE_ENV", "development"),
			MaxBodyBytes:    envInt64("CASEBRIDGE_MAX_BODY_BYTES", 512<<20),
			RateLimitPerMin: envInt("CASEBRIDGE_RATE_LIMIT_PER_MIN", 60),
			ReadTimeout:     envDuration("CASEBRIDGE_READ_TIMEOUT", 5*time.Minute),
			WriteTimeout:    envDuration("CASEBRIDGE_WRITE_TIMEOUT", 6*time.Minute), // counted from the request headers, so it must cover the upload
		},
		Store: StoreConfig{
			Backend:      envString("STORE_BACKEND", "memory"),
			RetentionTTL: envDuration("STORE_RETENTION_TTL", 24*time.Hour),
			EvictEvery:   envDuration("STORE_EVICT_INTERVAL", 10*time.Minute),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Worker: WorkerConfig{
			Concurrency:     envInt("WORKER_CONCURRENCY", 4),
			AnalysisTimeout: envDuration("WORKER_ANALYSIS_TIMEOUT", 10*time.Minute),
			LeaseTTL:        envDuration("WORKER_LEASE_TTL", 2*time.Minute),
			ReapInterval:    envDuration("WORKER_REAP_INTERVAL", 30*time.Second),
		},
		Submission: SubmissionConfig{
			MaxFiles:     envInt("SUBMISSION_MAX_FILES", 10),
			MaxFileBytes: envInt64("SUBMISSION_MAX_FILE_BYTES", 100<<20),
			MediaTypes:   envList("SUBMISSION_MEDIA_TYPES"),
		},
		Extract: ExtractConfig{
			MaxDocumentBytes: envInt("EXTRACT_MAX_DOCUMENT_BYTES", 256<<10),
			FallbackCharset:  envString("EXTRACT_FALLBACK_CHARSET", "windows-1251"),
		},
		AI: AIConfig{
			Provider:     os.Getenv("AI_PROVIDER"),
			SystemPrompt: os.Getenv("AI_SYSTEM_PROMPT"),
			Gemini: GeminiConfig{
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				Model:   envString("GEMINI_MODEL", "auto"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			Anthropic: AnthropicConfig{
				BaseURL:   envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
				Model:     envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				MaxTokens: envInt("ANTHROPIC_MAX_TOKENS", 4096),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llava"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("CASEBRIDGE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, postgres; got %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}
	if c.Store.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when STORE_BACKEND is redis")
	}
	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.LeaseTTL <= 0 {
		return fmt.Errorf("WORKER_LEASE_TTL must be positive")
	}
	if c.Worker.ReapInterval <= 0 {
		return fmt.Errorf("WORKER_REAP_INTERVAL must be positive")
	}

	if c.Submission.MaxFiles <= 0 {
		return fmt.Errorf("SUBMISSION_MAX_FILES must be positive, got %d", c.Submission.MaxFiles)
	}

	if c.Extract.MaxDocumentBytes <= 0 {
		return fmt.Errorf("EXTRACT_MAX_DOCUMENT_BYTES must be positive, got %d", c.Extract.MaxDocumentBytes)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of gemini, openai, vllm, anthropic, ollama, mock; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
