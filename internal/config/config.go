package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/diavoice/internal/audio"
)

// Config contains all runtime settings for the voice relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Serverless disables the realtime relay; start/terminate answer with stubs.
	Serverless bool

	UpstreamProvider string
	GeminiAPIKey     string
	GeminiAPIVersion string

	ConnectTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration

	StopGrace         time.Duration
	JoinTimeout       time.Duration
	KeepAliveInterval time.Duration
	QueueSize         int

	DatabaseURL string

	Live Live
}

// Live is the immutable upstream conversation configuration handed to every
// session.
type Live struct {
	Model             string
	VoiceName         string
	SystemInstruction string
	Generation        Generation
	Safety            []SafetySetting
	Audio             AudioSettings
}

type Generation struct {
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
}

// SafetySetting pairs a harm category with a block threshold, both in the
// upstream service's enum spelling.
type SafetySetting struct {
	Category  string
	Threshold string
}

type AudioSettings struct {
	SendSampleRate    int
	ReceiveSampleRate int
	Channels          int
	SampleWidth       int
}

// OutputFormat is the PCM layout of synthesized audio.
func (a AudioSettings) OutputFormat() audio.Format {
	return audio.Format{SampleRate: a.ReceiveSampleRate, Channels: a.Channels, SampleWidth: a.SampleWidth}
}

// InputMIMEType is the MIME hint announced upstream for client audio.
func (a AudioSettings) InputMIMEType() string {
	return fmt.Sprintf("%s;rate=%d", audio.MIMEPCM, a.SendSampleRate)
}

// DefaultLive returns the conversation settings used when no override is set.
func DefaultLive() Live {
	return Live{
		Model:             "models/gemini-2.0-flash-live-001",
		VoiceName:         "Puck",
		SystemInstruction: SystemInstruction,
		Generation: Generation{
			Temperature:     0.7,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 8192,
		},
		Safety: []SafetySetting{
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		},
		Audio: AudioSettings{
			SendSampleRate:    audio.SendSampleRate,
			ReceiveSampleRate: audio.ReceiveSampleRate,
			Channels:          audio.Channels,
			SampleWidth:       audio.SampleWidth,
		},
	}
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	port := envOrDefault("PORT", "5000")
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":"+port),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "diavoice"),
		// Browser clients of the public API connect cross-origin.
		AllowAnyOrigin:    true,
		Serverless:        os.Getenv("VERCEL") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "",
		UpstreamProvider:  strings.ToLower(envOrDefault("UPSTREAM_PROVIDER", "auto")),
		GeminiAPIKey:      stringsTrimSpace("GEMINI_API_KEY"),
		GeminiAPIVersion:  envOrDefault("GEMINI_API_VERSION", "v1beta"),
		ConnectTimeout:    30 * time.Second,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		StopGrace:         500 * time.Millisecond,
		JoinTimeout:       2 * time.Second,
		KeepAliveInterval: 500 * time.Millisecond,
		QueueSize:         256,
		ShutdownTimeout:   15 * time.Second,
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		Live:              DefaultLive(),
	}
	cfg.Live.Model = envOrDefault("GEMINI_MODEL", cfg.Live.Model)
	cfg.Live.VoiceName = envOrDefault("GEMINI_VOICE", cfg.Live.VoiceName)

	if _, err := strconv.Atoi(port); err != nil {
		return Config{}, fmt.Errorf("PORT parse error: %w", err)
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"UPSTREAM_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"UPSTREAM_RETRY_DELAY", &cfg.RetryDelay},
		{"SESSION_STOP_GRACE", &cfg.StopGrace},
		{"SESSION_JOIN_TIMEOUT", &cfg.JoinTimeout},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.MaxRetries, err = intFromEnv("UPSTREAM_MAX_RETRIES", cfg.MaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueSize, err = intFromEnv("RELAY_QUEUE_SIZE", cfg.QueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	gen := &cfg.Live.Generation
	if gen.Temperature, err = floatFromEnv("GEMINI_TEMPERATURE", gen.Temperature); err != nil {
		return Config{}, err
	}
	if gen.TopP, err = floatFromEnv("GEMINI_TOP_P", gen.TopP); err != nil {
		return Config{}, err
	}
	if gen.TopK, err = floatFromEnv("GEMINI_TOP_K", gen.TopK); err != nil {
		return Config{}, err
	}
	maxTokens, err := intFromEnv("GEMINI_MAX_OUTPUT_TOKENS", int(gen.MaxOutputTokens))
	if err != nil {
		return Config{}, err
	}
	gen.MaxOutputTokens = int32(maxTokens)

	switch cfg.UpstreamProvider {
	case "auto", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("invalid UPSTREAM_PROVIDER: %q (expected auto|gemini|mock)", cfg.UpstreamProvider)
	}
	if cfg.MaxRetries <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_MAX_RETRIES must be positive")
	}
	if cfg.QueueSize <= 0 {
		return Config{}, fmt.Errorf("RELAY_QUEUE_SIZE must be positive")
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_CONNECT_TIMEOUT must be positive")
	}
	if cfg.RetryDelay < 0 || cfg.StopGrace < 0 || cfg.JoinTimeout < 0 {
		return Config{}, fmt.Errorf("retry delay, stop grace and join timeout must not be negative")
	}
	if gen.Temperature < 0 || gen.Temperature > 2 {
		return Config{}, fmt.Errorf("GEMINI_TEMPERATURE must be within [0, 2]")
	}
	if gen.TopP < 0 || gen.TopP > 1 {
		return Config{}, fmt.Errorf("GEMINI_TOP_P must be within [0, 1]")
	}
	if gen.MaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("GEMINI_MAX_OUTPUT_TOKENS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float32) (float32, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return float32(f), nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
