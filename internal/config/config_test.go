package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.CaptureInterval != 5*time.Second {
		t.Fatalf("CaptureInterval = %v, want 5s", cfg.CaptureInterval)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.DriftTolerance != 100*time.Millisecond {
		t.Fatalf("DriftTolerance = %v, want 100ms", cfg.DriftTolerance)
	}
	if cfg.CallProvider != "mock" {
		t.Fatalf("CallProvider = %q, want mock", cfg.CallProvider)
	}
	if cfg.RecordingStore != "memory" {
		t.Fatalf("RecordingStore = %q, want memory", cfg.RecordingStore)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CALL_CONNECT_TIMEOUT", "45s")
	t.Setenv("CAPTURE_INTERVAL", "2s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConnectTimeout != 45*time.Second {
		t.Fatalf("ConnectTimeout = %v, want 45s", cfg.ConnectTimeout)
	}
	if cfg.CaptureInterval != 2*time.Second {
		t.Fatalf("CaptureInterval = %v, want 2s", cfg.CaptureInterval)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsWSProviderWithoutURL(t *testing.T) {
	t.Setenv("CALL_PROVIDER", "ws")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error when CALL_PROVIDER=ws without URL")
	}
}

func TestLoadRejectsS3StoreWithoutBucket(t *testing.T) {
	t.Setenv("RECORDING_STORE", "s3")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error when RECORDING_STORE=s3 without bucket")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("PROCESSING_POLL_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected parse error")
	}
}
