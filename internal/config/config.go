package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the realtime voice gateway.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ProviderMode          string
	OpenAIAPIKey          string
	OpenAIRealtimeURL     string
	OpenAIModel           string
	OpenAITranscribeModel string

	AudioFormat     string
	AudioSampleRate int
	AudioMinFrame   time.Duration

	StreamQueueSize   int
	OutboundQueueSize int

	LiveTranslationDefault bool
	VADEnabled             bool
	TargetLanguage         string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "realtime"),
		AllowAnyOrigin:   false,
		ProviderMode:     envOrDefault("REALTIME_PROVIDER", "auto"),
		OpenAIAPIKey:     trimEnv("OPENAI_API_KEY"),
		// Upstream sessions speak the OpenAI Realtime websocket protocol.
		OpenAIRealtimeURL:     envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIModel:           envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		OpenAITranscribeModel: envOrDefault("OPENAI_TRANSCRIBE_MODEL", "gpt-4o-mini-transcribe"),
		// Little-endian PCM16 mono is the only accepted inbound audio encoding.
		AudioFormat:              envOrDefault("AUDIO_INPUT_FORMAT", "pcm16"),
		AudioSampleRate:          24000,
		AudioMinFrame:            100 * time.Millisecond,
		StreamQueueSize:          64,
		OutboundQueueSize:        256,
		LiveTranslationDefault:   true,
		VADEnabled:               true,
		TargetLanguage:           envOrDefault("TARGET_LANGUAGE", "en"),
		DatabaseURL:              trimEnv("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioMinFrame, err = durationFromEnv("AUDIO_MIN_FRAME", cfg.AudioMinFrame)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioSampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.AudioSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamQueueSize, err = intFromEnv("STREAM_QUEUE_SIZE", cfg.StreamQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundQueueSize, err = intFromEnv("WS_OUTBOUND_QUEUE_SIZE", cfg.OutboundQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LiveTranslationDefault, err = boolFromEnv("LIVE_TRANSLATION_DEFAULT", cfg.LiveTranslationDefault)
	if err != nil {
		return Config{}, err
	}
	cfg.VADEnabled, err = boolFromEnv("VAD_ENABLED", cfg.VADEnabled)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.AudioSampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.AudioMinFrame < 20*time.Millisecond {
		return Config{}, fmt.Errorf("AUDIO_MIN_FRAME must be at least 20ms")
	}
	if cfg.StreamQueueSize <= 0 {
		return Config{}, fmt.Errorf("STREAM_QUEUE_SIZE must be positive")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("WS_OUTBOUND_QUEUE_SIZE must be positive")
	}
	if strings.ToLower(cfg.AudioFormat) != "pcm16" {
		return Config{}, fmt.Errorf("AUDIO_INPUT_FORMAT %q is not supported (only pcm16)", cfg.AudioFormat)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimEnv(key)
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
	v := trimEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimEnv(key))
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
