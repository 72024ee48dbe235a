package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the consultation gateway
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service; empty disables it

	// Speech-to-text provider: deepgram or whisper
	STTProvider        string  `envconfig:"STT_PROVIDER" default:"deepgram"`
	STTLanguage        string  `envconfig:"STT_LANGUAGE" default:"en"`
	STTTimeout         int     `envconfig:"STT_TIMEOUT" default:"8000"` // milliseconds
	DeepgramAPIKey     string  `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel      string  `envconfig:"DEEPGRAM_MODEL" default:"nova-2-medical"`
	WhisperModel       string  `envconfig:"WHISPER_MODEL" default:"whisper-1"`
	WhisperBaseURL     string  `envconfig:"WHISPER_BASE_URL" default:""` // OpenAI-compatible server; empty uses OpenAI
	FallbackCeiling    float64 `envconfig:"STT_FALLBACK_CONFIDENCE" default:"0.6"`
	TranscribeCooldown int     `envconfig:"TRANSCRIBE_COOLDOWN" default:"500"` // milliseconds

	// Language model
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	LLMModel      string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMTimeout    int    `envconfig:"LLM_TIMEOUT" default:"10000"` // milliseconds
	LLMEnabled    bool   `envconfig:"LLM_ENABLED" default:"true"`

	// Audio segmentation (milliseconds unless noted)
	VoiceThreshold      float64 `envconfig:"VAD_VOICE_THRESHOLD" default:"0.015"` // RMS on [-1,1] samples
	MinVoiceFrames      int     `envconfig:"VAD_MIN_VOICE_FRAMES" default:"3"`
	PhraseEndSilence    int     `envconfig:"PHRASE_END_SILENCE" default:"1200"`
	OrphanSilence       int     `envconfig:"ORPHAN_SILENCE" default:"10000"`
	MinVoiceDuration    int     `envconfig:"MIN_VOICE_DURATION" default:"400"`
	MaxPhraseDuration   int     `envconfig:"MAX_PHRASE_DURATION" default:"15000"`
	NormalizeTarget     float64 `envconfig:"NORMALIZE_TARGET_PEAK" default:"0.9"`
	NormalizeNoiseFloor float64 `envconfig:"NORMALIZE_NOISE_FLOOR" default:"0.02"`
	FrameQueueSize      int     `envconfig:"FRAME_QUEUE_SIZE" default:"256"`

	// Context analysis and suggestions
	ContextWindow           int     `envconfig:"CONTEXT_WINDOW" default:"10"`
	SuggestionInterval      int     `envconfig:"SUGGESTION_INTERVAL" default:"20000"` // milliseconds
	SuggestionMaxPerSession int     `envconfig:"SUGGESTION_MAX_PER_SESSION" default:"50"`
	SuggestionMaxPerBatch   int     `envconfig:"SUGGESTION_MAX_PER_BATCH" default:"5"`
	SuggestionMinConfidence float64 `envconfig:"SUGGESTION_MIN_CONFIDENCE" default:"0.5"`
	KnowledgeBasePath       string  `envconfig:"KNOWLEDGE_BASE_PATH" default:""` // YAML file; empty uses built-in protocols

	// Collaborators; empty values select in-memory / websocket-only implementations
	DatabaseURL   string `envconfig:"DATABASE_URL" default:""`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks provider credentials and threshold sanity
func (c *Config) Validate() error {
	c.STTProvider = strings.ToLower(strings.TrimSpace(c.STTProvider))
	switch c.STTProvider {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case "whisper":
		if c.OpenAIAPIKey == "" && c.WhisperBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or WHISPER_BASE_URL is required when STT_PROVIDER=whisper")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}

	if c.LLMEnabled && c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when LLM_ENABLED=true")
	}
	if c.FallbackCeiling <= 0 || c.FallbackCeiling > 1 {
		return fmt.Errorf("STT_FALLBACK_CONFIDENCE must be in (0,1], got %v", c.FallbackCeiling)
	}
	if c.MinVoiceDuration >= c.MaxPhraseDuration {
		return fmt.Errorf("MIN_VOICE_DURATION must be below MAX_PHRASE_DURATION")
	}
	if c.PhraseEndSilence >= c.OrphanSilence {
		return fmt.Errorf("PHRASE_END_SILENCE must be below ORPHAN_SILENCE")
	}
	if c.SuggestionMaxPerBatch <= 0 {
		return fmt.Errorf("SUGGESTION_MAX_PER_BATCH must be positive")
	}
	return nil
}

// Millis converts a millisecond setting into a duration
func Millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
