package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview recording service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	// Call lifecycle.
	ConnectTimeout  time.Duration
	CaptureInterval time.Duration
	PollInterval    time.Duration

	// Playback.
	DriftTolerance time.Duration

	// Calling-transport provider: "mock" or "ws".
	CallProvider       string
	CallProviderWSURL  string
	CallProviderAPIKey string
	CallAgentID        string

	// Recording blob store: "memory" or "s3".
	RecordingStore       string
	RecordingsBucket     string
	RecordingsRegion     string
	RecordingsEndpoint   string
	RecordingsPublicBase string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "talkmybio"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,
		ShutdownTimeout:  15 * time.Second,
		// No call-started confirmation within this window fails the attempt.
		ConnectTimeout: 30 * time.Second,
		// Each tick closes the current segment and re-uploads the cumulative blob.
		CaptureInterval: 5 * time.Second,
		PollInterval:    2 * time.Second,
		DriftTolerance:  100 * time.Millisecond,

		CallProvider:       strings.ToLower(envOrDefault("CALL_PROVIDER", "mock")),
		CallProviderWSURL:  envTrimmed("CALL_PROVIDER_WS_URL"),
		CallProviderAPIKey: envTrimmed("CALL_PROVIDER_API_KEY"),
		CallAgentID:        envTrimmed("CALL_AGENT_ID"),

		RecordingStore:       strings.ToLower(envOrDefault("RECORDING_STORE", "memory")),
		RecordingsBucket:     envTrimmed("RECORDINGS_BUCKET"),
		RecordingsRegion:     envOrDefault("RECORDINGS_REGION", "us-east-1"),
		RecordingsEndpoint:   envTrimmed("RECORDINGS_ENDPOINT"),
		RecordingsPublicBase: envTrimmed("RECORDINGS_PUBLIC_BASE"),

		DatabaseURL: envTrimmed("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("CALL_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureInterval, err = durationFromEnv("CAPTURE_INTERVAL", cfg.CaptureInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval, err = durationFromEnv("PROCESSING_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DriftTolerance, err = durationFromEnv("PLAYBACK_DRIFT_TOLERANCE", cfg.DriftTolerance)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConnectTimeout < time.Second {
		return Config{}, fmt.Errorf("CALL_CONNECT_TIMEOUT must be at least 1s")
	}
	if cfg.CaptureInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("CAPTURE_INTERVAL must be at least 100ms")
	}
	if cfg.PollInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("PROCESSING_POLL_INTERVAL must be at least 100ms")
	}
	if cfg.DriftTolerance <= 0 {
		return Config{}, fmt.Errorf("PLAYBACK_DRIFT_TOLERANCE must be positive")
	}
	switch cfg.CallProvider {
	case "mock":
	case "ws":
		if cfg.CallProviderWSURL == "" {
			return Config{}, fmt.Errorf("CALL_PROVIDER_WS_URL is required when CALL_PROVIDER=ws")
		}
	default:
		return Config{}, fmt.Errorf("CALL_PROVIDER must be mock or ws")
	}
	switch cfg.RecordingStore {
	case "memory":
	case "s3":
		if cfg.RecordingsBucket == "" {
			return Config{}, fmt.Errorf("RECORDINGS_BUCKET is required when RECORDING_STORE=s3")
		}
	default:
		return Config{}, fmt.Errorf("RECORDING_STORE must be memory or s3")
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

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
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
