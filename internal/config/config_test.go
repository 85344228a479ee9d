package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":5000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":5000")
	}
	if cfg.MaxRetries != 3 || cfg.RetryDelay != time.Second {
		t.Fatalf("retry policy = %d/%v, want 3/1s", cfg.MaxRetries, cfg.RetryDelay)
	}
	if cfg.StopGrace != 500*time.Millisecond || cfg.JoinTimeout != 2*time.Second {
		t.Fatalf("stop timings = %v/%v, want 500ms/2s", cfg.StopGrace, cfg.JoinTimeout)
	}
	if cfg.Serverless {
		t.Fatalf("Serverless = true, want false")
	}
	if cfg.Live.Model != "models/gemini-2.0-flash-live-001" || cfg.Live.VoiceName != "Puck" {
		t.Fatalf("unexpected live defaults: %+v", cfg.Live)
	}
	if cfg.Live.Generation.TopK != 40 || cfg.Live.Generation.MaxOutputTokens != 8192 {
		t.Fatalf("unexpected generation defaults: %+v", cfg.Live.Generation)
	}
	if len(cfg.Live.Safety) != 4 {
		t.Fatalf("len(Safety) = %d, want 4", len(cfg.Live.Safety))
	}
	if !strings.HasPrefix(cfg.Live.SystemInstruction, "You are DIA") {
		t.Fatalf("system instruction not loaded")
	}
	if got := cfg.Live.Audio.InputMIMEType(); got != "audio/pcm;rate=16000" {
		t.Fatalf("InputMIMEType() = %q", got)
	}
	if f := cfg.Live.Audio.OutputFormat(); f.SampleRate != 24000 || f.Channels != 1 || f.SampleWidth != 2 {
		t.Fatalf("OutputFormat() = %+v", f)
	}
}

func TestLoadPortAndServerless(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PORT", "8081")
	t.Setenv("VERCEL", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8081" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8081")
	}
	if !cfg.Serverless {
		t.Fatalf("Serverless = false, want true")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("UPSTREAM_MAX_RETRIES", "5")
	t.Setenv("UPSTREAM_RETRY_DELAY", "250ms")
	t.Setenv("GEMINI_TEMPERATURE", "0.2")
	t.Setenv("GEMINI_VOICE", "Kore")
	t.Setenv("UPSTREAM_PROVIDER", "MOCK")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxRetries != 5 || cfg.RetryDelay != 250*time.Millisecond {
		t.Fatalf("retry policy = %d/%v", cfg.MaxRetries, cfg.RetryDelay)
	}
	if cfg.Live.Generation.Temperature != float32(0.2) || cfg.Live.VoiceName != "Kore" {
		t.Fatalf("unexpected live overrides: %+v", cfg.Live)
	}
	if cfg.UpstreamProvider != "mock" {
		t.Fatalf("UpstreamProvider = %q, want mock", cfg.UpstreamProvider)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"UPSTREAM_MAX_RETRIES": "0",
		"UPSTREAM_PROVIDER":    "openai",
		"GEMINI_TOP_P":         "1.5",
		"PORT":                 "http",
		"SESSION_JOIN_TIMEOUT": "soon",
		"APP_ALLOW_ANY_ORIGIN": "maybe",
	}
	for key, value := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(key, value)
		if _, err := Load(); err == nil {
			t.Fatalf("Load() with %s=%q succeeded, want error", key, value)
		}
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"VERCEL",
		"AWS_LAMBDA_FUNCTION_NAME",
		"UPSTREAM_PROVIDER",
		"UPSTREAM_CONNECT_TIMEOUT",
		"UPSTREAM_MAX_RETRIES",
		"UPSTREAM_RETRY_DELAY",
		"SESSION_STOP_GRACE",
		"SESSION_JOIN_TIMEOUT",
		"RELAY_QUEUE_SIZE",
		"GEMINI_API_KEY",
		"GEMINI_API_VERSION",
		"GEMINI_MODEL",
		"GEMINI_VOICE",
		"GEMINI_TEMPERATURE",
		"GEMINI_TOP_P",
		"GEMINI_TOP_K",
		"GEMINI_MAX_OUTPUT_TOKENS",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
