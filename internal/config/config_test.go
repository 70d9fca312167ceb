package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nx/nxclaw/internal/config"
)

func TestLoadFromNxclawHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NXCLAW_HOME", home)

	body := `{"llm":{"provider":"anthropic","model":"claude"},"tasks":{"maxConcurrentProcesses":8}}`
	if err := os.WriteFile(filepath.Join(home, "config.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude" {
		t.Fatalf("unexpected LLM config: %+v", cfg.LLM)
	}
	if cfg.Tasks.MaxConcurrentProcesses != 8 {
		t.Fatalf("expected maxConcurrentProcesses=8, got %d", cfg.Tasks.MaxConcurrentProcesses)
	}
	if cfg.NeedsOnboarding {
		t.Fatal("expected NeedsOnboarding=false when config.json exists")
	}
}

func TestLoadMissingConfigNeedsOnboarding(t *testing.T) {
	t.Setenv("NXCLAW_HOME", t.TempDir())
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsOnboarding {
		t.Fatal("expected NeedsOnboarding=true when config.json is absent")
	}
	if cfg.Tasks.MaxConcurrentProcesses != 4 {
		t.Fatalf("expected default maxConcurrentProcesses=4, got %d", cfg.Tasks.MaxConcurrentProcesses)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NXCLAW_HOME", t.TempDir())
	t.Setenv("NXCLAW_LOG_LEVEL", "debug")
	t.Setenv("NXCLAW_MAX_CONCURRENT_PROCESSES", "12")
	t.Setenv("NXCLAW_AUTOLOOP_ENABLED", "false")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level override, got %q", cfg.LogLevel)
	}
	if cfg.Tasks.MaxConcurrentProcesses != 12 {
		t.Fatalf("expected maxConcurrentProcesses override, got %d", cfg.Tasks.MaxConcurrentProcesses)
	}
	if cfg.Autoloop.Enabled {
		t.Fatal("expected autoloop disabled by env override")
	}
}

func TestSaveRoundTrips(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NXCLAW_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.LLM.Provider = "openai"
	if err := config.Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	reloaded, err := config.Load()
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.LLM.Provider != "openai" {
		t.Fatalf("expected saved provider to round-trip, got %q", reloaded.LLM.Provider)
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	t.Setenv("NXCLAW_HOME", t.TempDir())
	a, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	b := a
	b.LLM.Provider = "openai"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected different config content to produce different fingerprints")
	}
}

func TestPolicyPathDefaultsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NXCLAW_HOME", home)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := filepath.Join(home, "policy.yaml")
	if cfg.PolicyPath != want {
		t.Fatalf("expected default policy path %q, got %q", want, cfg.PolicyPath)
	}
}
