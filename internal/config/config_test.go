package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("DISPATCH_BATCH_SIZE")
	os.Unsetenv("DISPATCH_POLL_EVERY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}
	if cfg.DispatchBatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", cfg.DispatchBatchSize)
	}
	if cfg.DispatchMaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.DispatchMaxAttempts)
	}
	if cfg.DispatchPollEvery != 0 {
		t.Errorf("expected poller disabled by default, got %v", cfg.DispatchPollEvery)
	}
}

func TestLoadCustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("ENV", "production")
	os.Setenv("DISPATCH_BATCH_SIZE", "25")
	os.Setenv("DISPATCH_POLL_EVERY", "30s")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("ENV")
		os.Unsetenv("DISPATCH_BATCH_SIZE")
		os.Unsetenv("DISPATCH_POLL_EVERY")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.DispatchBatchSize != 25 {
		t.Errorf("expected batch size 25, got %d", cfg.DispatchBatchSize)
	}
	if cfg.DispatchPollEvery != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.DispatchPollEvery)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	os.Setenv("PORT", "not-a-number")
	defer os.Unsetenv("PORT")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}
