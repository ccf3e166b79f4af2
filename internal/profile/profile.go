package profile

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol)
	LLMProvider string // openai, deepseek, openrouter, ollama, or any compatible provider
	LLMAPIKey   string
	LLMBaseURL  string // optional, has a default per provider
	LLMModel    string
	LLMTimeout  int // request timeout in seconds (default: 120)

	// Embedding configuration
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingDim     int // must match the vector column width (default: 768)

	// Web search configuration
	SearchProvider string // serper (paid) with duckduckgo fallback
	SearchAPIKey   string
	SearchAPIURL   string

	// Scrape configuration
	JSRenderEnabled bool
	JSRenderPercent int // sampled fraction of thin pages re-fetched headless (1-100)

	// Cache TTLs in seconds
	SearchCacheTTL   int // default 1h
	ScrapeCacheTTL   int // default 6h
	ResponseCacheTTL int // default 1h

	// Prediction cache windows in hours
	PredictionTTLSports  int // default 6
	PredictionTTLGeneral int // default 24

	// Quota limits
	GuestMessageLimit int // lifetime messages for anonymous fingerprints (default 3)
	GuestSearchLimit  int // web searches per day
	FreeSearchLimit   int
	PaidSearchLimit   int

	// Infrastructure
	RedisURL    string // optional; cache degrades to in-process map when empty
	DSN         string // postgres connection string
	Mode        string // prod, dev, demo
	Addr        string
	Port        int
	Version     string
	InstanceURL string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsSearchEnabled returns true unless search is explicitly disabled.
// The free fallback works without an API key.
func (p *Profile) IsSearchEnabled() bool {
	return p.SearchProvider != "" && p.SearchProvider != "none"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("DOST_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("DOST_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("DOST_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("DOST_LLM_MODEL", "gpt-4o-mini")
	p.LLMTimeout = getEnvOrDefaultInt("DOST_LLM_TIMEOUT_SECONDS", 120)

	p.EmbeddingAPIKey = getEnvOrDefault("DOST_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("DOST_EMBEDDING_BASE_URL", "")
	p.EmbeddingModel = getEnvOrDefault("DOST_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingDim = getEnvOrDefaultInt("DOST_EMBEDDING_DIM", 768)

	p.SearchProvider = getEnvOrDefault("DOST_SEARCH_PROVIDER", "serper")
	p.SearchAPIKey = getEnvOrDefault("DOST_SEARCH_API_KEY", "")
	p.SearchAPIURL = getEnvOrDefault("DOST_SEARCH_API_URL", "https://google.serper.dev/search")

	p.JSRenderEnabled = getEnvOrDefault("DOST_JS_RENDER_ENABLED", "false") == "true"
	p.JSRenderPercent = getEnvOrDefaultInt("DOST_JS_RENDER_PERCENT", 10)

	p.SearchCacheTTL = getEnvOrDefaultInt("DOST_SEARCH_CACHE_TTL_SECONDS", 3600)
	p.ScrapeCacheTTL = getEnvOrDefaultInt("DOST_SCRAPE_CACHE_TTL_SECONDS", 21600)
	p.ResponseCacheTTL = getEnvOrDefaultInt("DOST_RESPONSE_CACHE_TTL_SECONDS", 3600)

	p.PredictionTTLSports = getEnvOrDefaultInt("DOST_PREDICTION_TTL_SPORTS_HOURS", 6)
	p.PredictionTTLGeneral = getEnvOrDefaultInt("DOST_PREDICTION_TTL_GENERAL_HOURS", 24)

	p.GuestMessageLimit = getEnvOrDefaultInt("DOST_GUEST_MESSAGE_LIMIT", 3)
	p.GuestSearchLimit = getEnvOrDefaultInt("DOST_GUEST_SEARCH_LIMIT", 5)
	p.FreeSearchLimit = getEnvOrDefaultInt("DOST_FREE_SEARCH_LIMIT", 10)
	p.PaidSearchLimit = getEnvOrDefaultInt("DOST_PAID_SEARCH_LIMIT", 50)

	p.RedisURL = getEnvOrDefault("DOST_REDIS_URL", getEnvOrDefault("REDIS_URL", ""))
	if p.DSN == "" {
		p.DSN = getEnvOrDefault("DOST_DSN", getEnvOrDefault("DATABASE_URL", ""))
	}
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.DSN == "" {
		return errors.New("database DSN is required (set DOST_DSN or DATABASE_URL)")
	}
	if p.EmbeddingDim <= 0 {
		return errors.Errorf("invalid embedding dimension %d", p.EmbeddingDim)
	}
	if p.JSRenderPercent < 0 || p.JSRenderPercent > 100 {
		return errors.Errorf("invalid JS render percent %d, must be 0-100", p.JSRenderPercent)
	}
	return nil
}
