package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t,
		"SERVICE_PRINCIPAL", "HTTP_PORT", "LOG_LEVEL", "LOG_FORMAT",
		"ASR_PROVIDER", "ASR_LANGUAGE_CODE", "ASR_SAMPLE_RATE_HZ",
		"ASR_CHANNELS", "ASR_INTERIM_RESULTS", "ASR_AUDIO_ENCODING",
		"ASR_MAX_RETRIES", "ASR_INITIAL_BACKOFF", "ASR_MAX_BACKOFF",
		"SESSION_IDLE_TIMEOUT", "SESSION_MAX_FRAME_BYTES",
		"LLM_API_KEY", "LLM_MODEL", "LLM_MAX_ATTEMPTS", "LLM_REQUEST_TIMEOUT",
		"KAFKA_ENABLED", "KAFKA_PRINCIPAL",
	)

	cfg := Load()

	if cfg.Service.Principal != "svc-consultation-capture" {
		t.Errorf("expected default principal 'svc-consultation-capture', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default port '8080', got %s", cfg.Service.HTTPPort)
	}

	if cfg.ASR.Provider != "mock" {
		t.Errorf("expected default ASR provider 'mock', got %s", cfg.ASR.Provider)
	}
	if cfg.ASR.LanguageCode != "pt-BR" {
		t.Errorf("expected default language 'pt-BR', got %s", cfg.ASR.LanguageCode)
	}
	if cfg.ASR.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.ASR.SampleRateHz)
	}
	if cfg.ASR.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.ASR.InterimResults)
	}
	if cfg.ASR.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.ASR.AudioEncoding)
	}
	if cfg.ASR.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.ASR.MaxRetries)
	}

	if cfg.Session.IdleTimeout != 30*time.Second {
		t.Errorf("expected default idle timeout 30s, got %v", cfg.Session.IdleTimeout)
	}
	if cfg.Session.MaxFrameBytes != 64*1024 {
		t.Errorf("expected default max frame bytes 64KiB, got %d", cfg.Session.MaxFrameBytes)
	}

	if cfg.Structuring.MaxAttempts != 3 {
		t.Errorf("expected default structuring attempts 3, got %d", cfg.Structuring.MaxAttempts)
	}
	if cfg.Structuring.RequestTimeout != 60*time.Second {
		t.Errorf("expected default request timeout 60s, got %v", cfg.Structuring.RequestTimeout)
	}

	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ASR_PROVIDER", "google")
	t.Setenv("ASR_LANGUAGE_CODE", "en-US")
	t.Setenv("ASR_SAMPLE_RATE_HZ", "8000")
	t.Setenv("ASR_INTERIM_RESULTS", "false")
	t.Setenv("ASR_AUDIO_ENCODING", "MULAW")
	t.Setenv("ASR_MAX_RETRIES", "5")
	t.Setenv("ASR_INITIAL_BACKOFF", "250ms")
	t.Setenv("SESSION_IDLE_TIMEOUT", "10s")
	t.Setenv("SESSION_MAX_FRAME_BYTES", "32768")
	t.Setenv("LLM_MODEL", "gpt-4o")
	t.Setenv("LLM_MAX_ATTEMPTS", "4")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.HTTPPort)
	}
	if cfg.ASR.Provider != "google" {
		t.Errorf("expected ASR provider 'google', got %s", cfg.ASR.Provider)
	}
	if cfg.ASR.LanguageCode != "en-US" {
		t.Errorf("expected language 'en-US', got %s", cfg.ASR.LanguageCode)
	}
	if cfg.ASR.SampleRateHz != 8000 {
		t.Errorf("expected sample rate 8000, got %d", cfg.ASR.SampleRateHz)
	}
	if cfg.ASR.InterimResults != false {
		t.Errorf("expected interim results false, got %v", cfg.ASR.InterimResults)
	}
	if cfg.ASR.AudioEncoding != "MULAW" {
		t.Errorf("expected encoding 'MULAW', got %s", cfg.ASR.AudioEncoding)
	}
	if cfg.ASR.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", cfg.ASR.MaxRetries)
	}
	if cfg.ASR.InitialBackoff != 250*time.Millisecond {
		t.Errorf("expected initial backoff 250ms, got %v", cfg.ASR.InitialBackoff)
	}
	if cfg.Session.IdleTimeout != 10*time.Second {
		t.Errorf("expected idle timeout 10s, got %v", cfg.Session.IdleTimeout)
	}
	if cfg.Session.MaxFrameBytes != 32768 {
		t.Errorf("expected max frame bytes 32768, got %d", cfg.Session.MaxFrameBytes)
	}
	if cfg.Structuring.Model != "gpt-4o" {
		t.Errorf("expected model 'gpt-4o', got %s", cfg.Structuring.Model)
	}
	if cfg.Structuring.MaxAttempts != 4 {
		t.Errorf("expected structuring attempts 4, got %d", cfg.Structuring.MaxAttempts)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "k1:9092" || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected brokers [k1:9092 k2:9092], got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	t.Setenv("ASR_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("ASR_INTERIM_RESULTS", "invalid")
	t.Setenv("ASR_INITIAL_BACKOFF", "invalid")
	t.Setenv("SESSION_MAX_FRAME_BYTES", "invalid")
	t.Setenv("LLM_MAX_ATTEMPTS", "invalid")

	cfg := Load()

	if cfg.ASR.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.ASR.SampleRateHz)
	}
	if cfg.ASR.InterimResults != true {
		t.Errorf("expected default interim results on invalid input, got %v", cfg.ASR.InterimResults)
	}
	if cfg.ASR.InitialBackoff != 500*time.Millisecond {
		t.Errorf("expected default initial backoff on invalid input, got %v", cfg.ASR.InitialBackoff)
	}
	if cfg.Session.MaxFrameBytes != 64*1024 {
		t.Errorf("expected default max frame bytes on invalid input, got %d", cfg.Session.MaxFrameBytes)
	}
	if cfg.Structuring.MaxAttempts != 3 {
		t.Errorf("expected default structuring attempts on invalid input, got %d", cfg.Structuring.MaxAttempts)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	t.Setenv("SERVICE_PRINCIPAL", "my-service")
	os.Unsetenv("KAFKA_PRINCIPAL")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			if got := envOrDefaultBool(key, tt.def); got != tt.expected {
				t.Errorf("envOrDefaultBool(%q, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	t.Setenv("TEST_LIST_VAR", " a , ,b,")
	got := envOrDefaultList("TEST_LIST_VAR", []string{"def"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}

	os.Unsetenv("TEST_LIST_VAR")
	got = envOrDefaultList("TEST_LIST_VAR", []string{"def"})
	if len(got) != 1 || got[0] != "def" {
		t.Errorf("expected fallback [def], got %v", got)
	}
}
