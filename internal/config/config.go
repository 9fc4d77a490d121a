// Package config loads service configuration from environment variables.
// Invalid values fall back to defaults rather than failing startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig holds service identity and listener settings.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

// ASRConfig holds streaming-recognizer settings.
type ASRConfig struct {
	Provider       string // mock, google
	LanguageCode   string
	SampleRateHz   int
	Channels       int
	AudioEncoding  string
	InterimResults bool
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ReplayLimit    int
}

// SessionConfig holds per-consultation lifecycle settings.
type SessionConfig struct {
	IdleTimeout   time.Duration
	ReapInterval  time.Duration
	MaxFrameBytes int64
}

// StructuringConfig holds language-model settings for the structuring engine.
type StructuringConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxAttempts    int
	RequestTimeout time.Duration
}

// KafkaConfig holds event publisher settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicPartial    string
	TopicFinal      string
	TopicStructured string
	TopicUsage      string
	Principal       string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string // json, console
	MetricsAddr string
}

// AuthConfig holds the identity-collaborator settings.
type AuthConfig struct {
	// Token is the shared bearer token clients must present. Empty
	// disables authorization (dev only).
	Token string
}

// Configuration is the root configuration for the service.
type Configuration struct {
	Service       ServiceConfig
	ASR           ASRConfig
	Session       SessionConfig
	Structuring   StructuringConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

// Load reads the configuration from the environment.
func Load() *Configuration {
	cfg := &Configuration{
		Service: ServiceConfig{
			Principal: envOrDefault("SERVICE_PRINCIPAL", "svc-consultation-capture"),
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		ASR: ASRConfig{
			Provider:       envOrDefault("ASR_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("ASR_LANGUAGE_CODE", "pt-BR"),
			SampleRateHz:   envOrDefaultInt("ASR_SAMPLE_RATE_HZ", 16000),
			Channels:       envOrDefaultInt("ASR_CHANNELS", 1),
			AudioEncoding:  envOrDefault("ASR_AUDIO_ENCODING", "LINEAR16"),
			InterimResults: envOrDefaultBool("ASR_INTERIM_RESULTS", true),
			MaxRetries:     envOrDefaultInt("ASR_MAX_RETRIES", 3),
			InitialBackoff: envOrDefaultDuration("ASR_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     envOrDefaultDuration("ASR_MAX_BACKOFF", 8*time.Second),
			ReplayLimit:    envOrDefaultInt("ASR_REPLAY_LIMIT", 512),
		},
		Session: SessionConfig{
			IdleTimeout:   envOrDefaultDuration("SESSION_IDLE_TIMEOUT", 30*time.Second),
			ReapInterval:  envOrDefaultDuration("SESSION_REAP_INTERVAL", 5*time.Second),
			MaxFrameBytes: envOrDefaultInt64("SESSION_MAX_FRAME_BYTES", 64*1024),
		},
		Structuring: StructuringConfig{
			APIKey:         os.Getenv("LLM_API_KEY"),
			BaseURL:        os.Getenv("LLM_BASE_URL"),
			Model:          envOrDefault("LLM_MODEL", "gpt-4o-mini"),
			MaxAttempts:    envOrDefaultInt("LLM_MAX_ATTEMPTS", 3),
			RequestTimeout: envOrDefaultDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial:    envOrDefault("KAFKA_TOPIC_PARTIAL", "consultation.transcript.partial"),
			TopicFinal:      envOrDefault("KAFKA_TOPIC_FINAL", "consultation.transcript.final"),
			TopicStructured: envOrDefault("KAFKA_TOPIC_STRUCTURED", "consultation.structured"),
			TopicUsage:      envOrDefault("KAFKA_TOPIC_USAGE", "consultation.token.usage"),
			Principal:       os.Getenv("KAFKA_PRINCIPAL"),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		Auth: AuthConfig{
			Token: os.Getenv("AUTH_TOKEN"),
		},
	}

	// Kafka principal falls back to the service principal.
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}

	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
