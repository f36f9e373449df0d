package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string
	APIKey      string
	ConfigFile  string

	// Event store
	StoreBackend     string
	MongoURI         string
	MongoDB          string
	MongoCollection  string
	AtlasVectorIndex string
	SQLitePath       string

	// Embeddings
	EmbeddingProvider    string // "gemini" or "openai"
	GeminiAPIKey         string
	GeminiEmbeddingModel string
	EmbeddingDim         int // output dimensions for either provider
	OpenAIAPIKey         string
	OpenAIEmbeddingModel string
	EmbeddingRPS         float64
	EmbeddingCacheTTL    time.Duration
	RedisURL             string

	// Transcription
	GroqAPIKey         string
	TranscribeLanguage string

	ProviderTimeout      time.Duration
	SessionMaxAge        time.Duration
	SessionSweepInterval time.Duration

	AllowedOrigins      string
	RateLimitGlobalAPI  int // requests per minute per IP
	RateLimitTranscribe int

	// Exit on failed preflight checks instead of warning
	PreflightStrict bool
}

// Overlay is the optional YAML file layered over the environment.
// Empty values leave the environment setting in place.
type Overlay struct {
	APIKey              string `yaml:"memory_api_key"`
	AllowedOrigins      string `yaml:"allowed_origins"`
	TranscribeLanguage  string `yaml:"transcribe_language"`
	EmbeddingProvider   string `yaml:"embedding_provider"`
	RateLimitGlobalAPI  int    `yaml:"rate_limit_global_api"`
	RateLimitTranscribe int    `yaml:"rate_limit_transcribe"`
	SessionMaxAge       string `yaml:"session_max_age"`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	mongoURI := getEnv("MONGODB_URI", "")
	defaultBackend := BackendSQLite
	if mongoURI != "" {
		defaultBackend = BackendMongo
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8787"),
		Environment: getEnv("ENVIRONMENT", "development"),
		APIKey:      getEnv("MEMORY_API_KEY", ""),
		ConfigFile:  getEnv("CONFIG_FILE", ""),

		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", defaultBackend)),
		MongoURI:         mongoURI,
		MongoDB:          getEnv("MONGODB_DB", "makeuoft26"),
		MongoCollection:  getEnv("MONGODB_COLLECTION", "memory_events"),
		AtlasVectorIndex: getEnv("ATLAS_VECTOR_INDEX", "memory_vector_index"),
		SQLitePath:       getEnv("SQLITE_PATH", "memory.db"),

		EmbeddingProvider:    strings.ToLower(getEnv("EMBEDDING_PROVIDER", "gemini")),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiEmbeddingModel: getEnv("GEMINI_EMBEDDING_MODEL", "gemini-embedding-001"),
		EmbeddingDim:         getIntEnv("EMBEDDING_DIM", getIntEnv("GEMINI_EMBEDDING_DIM", 768)),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingRPS:         getFloatEnv("EMBEDDING_RPS", 5),
		EmbeddingCacheTTL:    getDurationEnv("EMBEDDING_CACHE_TTL", 10*time.Minute),
		RedisURL:             getEnv("REDIS_URL", ""),

		GroqAPIKey:         getEnv("GROQ_API_KEY", ""),
		TranscribeLanguage: getEnv("TRANSCRIBE_LANGUAGE", ""),

		ProviderTimeout:      getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second),
		SessionMaxAge:        getDurationEnv("SESSION_MAX_AGE", 10*time.Minute),
		SessionSweepInterval: getDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute),

		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", "*"),
		RateLimitGlobalAPI:  getIntEnv("RATE_LIMIT_GLOBAL_API", 600),
		RateLimitTranscribe: getIntEnv("RATE_LIMIT_TRANSCRIBE", 60),

		PreflightStrict: getBoolEnv("PREFLIGHT_STRICT", false),
	}

	if cfg.ConfigFile != "" {
		overlay, err := ReadOverlay(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.Apply(overlay)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that the server cannot start without
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("MEMORY_API_KEY is required")
	}
	switch c.StoreBackend {
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for STORE_BACKEND=mongo")
		}
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.EmbeddingProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ReadOverlay parses a YAML overlay file
func ReadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &overlay, nil
}

// Apply copies the non-empty overlay values onto the config
func (c *Config) Apply(o *Overlay) {
	if o == nil {
		return
	}
	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.AllowedOrigins != "" {
		c.AllowedOrigins = o.AllowedOrigins
	}
	if o.TranscribeLanguage != "" {
		c.TranscribeLanguage = o.TranscribeLanguage
	}
	if o.EmbeddingProvider != "" {
		c.EmbeddingProvider = strings.ToLower(o.EmbeddingProvider)
	}
	if o.RateLimitGlobalAPI > 0 {
		c.RateLimitGlobalAPI = o.RateLimitGlobalAPI
	}
	if o.RateLimitTranscribe > 0 {
		c.RateLimitTranscribe = o.RateLimitTranscribe
	}
	if d, err := time.ParseDuration(o.SessionMaxAge); err == nil && d > 0 {
		c.SessionMaxAge = d
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		// bare integers are seconds
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
