package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port    int           `env:"DIALOG_TEST_PORT" envDefault:"123"`
	Backoff time.Duration `env:"DIALOG_TEST_BACKOFF" envDefault:"25ms"`
}

type prefixedTestConfig struct {
	Addr string `env:"ADDR" envDefault:":0"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.Backoff != 25*time.Millisecond {
		t.Fatalf("expected default backoff 25ms, got %s", cfg.Backoff)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("DIALOG_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvPrefixed(t *testing.T) {
	var cfg prefixedTestConfig
	t.Setenv("DIALOG_CHECK_ADDR", "127.0.0.1:9")

	if err := ParseEnvPrefixed(&cfg, "DIALOG_CHECK_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9" {
		t.Fatalf("addr = %q, want %q", cfg.Addr, "127.0.0.1:9")
	}
}
