package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CREDENTIAL_SOURCE", "user")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.CredentialSource != CredentialUser {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Text.Temperature != 0.7 || cfg.Text.TopP != 0.95 {
		t.Fatalf("unexpected sampling defaults %+v", cfg.Text)
	}
	if cfg.Voice.Voice != "Zephyr" || cfg.Voice.SnapshotInterval != 2*time.Second {
		t.Fatalf("unexpected voice defaults %+v", cfg.Voice)
	}
}

func TestLoadHostModeRequiresKey(t *testing.T) {
	t.Setenv("CREDENTIAL_SOURCE", "host")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("Load = %v, want missing key error", err)
	}

	t.Setenv("GEMINI_API_KEY", "AIzaTest")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CredentialSource != CredentialHost || cfg.APIKey != "AIzaTest" {
		t.Fatalf("unexpected credential config %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CREDENTIAL_SOURCE", "user")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("TEXT_TEMPERATURE", "0.2")
	t.Setenv("VOICE_SNAPSHOT_INTERVAL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionTTL != 15*time.Minute {
		t.Fatalf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.Text.Temperature != 0.2 {
		t.Fatalf("Temperature = %v", cfg.Text.Temperature)
	}
	if cfg.Voice.SnapshotInterval != 2*time.Second {
		t.Fatalf("bad duration should fall back, got %v", cfg.Voice.SnapshotInterval)
	}
}

func TestValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CREDENTIAL_SOURCE", "magic")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown credential source")
	}
}
