package doctor

import (
	"context"
	"testing"
	"time"

	"github.com/nx/nxclaw/internal/config"
)

func TestCheckNetwork_DefaultProvider(t *testing.T) {
	cfg := &config.Config{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := checkNetwork(ctx, cfg)
	if result.Status != "PASS" && result.Status != "FAIL" {
		t.Fatalf("expected PASS or FAIL, got %s", result.Status)
	}
	if result.Name != "Network" {
		t.Fatalf("expected name Network, got %s", result.Name)
	}
}

func TestCheckNetwork_NilConfig(t *testing.T) {
	result := checkNetwork(context.Background(), nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP for nil config, got %s", result.Status)
	}
}

func TestCheckNetwork_AnthropicProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = "anthropic"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := checkNetwork(ctx, cfg)
	if result.Name != "Network" {
		t.Fatalf("expected name Network, got %s", result.Name)
	}
	if result.Status == "PASS" && result.Detail == "" {
		t.Fatal("expected detail to be set on PASS")
	}
}

func TestCheckNetwork_UnknownProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = "unknown_provider"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := checkNetwork(ctx, cfg)
	if result.Status != "PASS" && result.Status != "FAIL" {
		t.Fatalf("expected PASS or FAIL for unknown provider, got %s", result.Status)
	}
}

func TestCheckNetwork_CanceledContext(t *testing.T) {
	cfg := &config.Config{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := checkNetwork(ctx, cfg)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for canceled context, got %s", result.Status)
	}
}

func TestCheckHomeWritable(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	result := checkHomeWritable(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckHomeWritable_NilConfig(t *testing.T) {
	result := checkHomeWritable(context.Background(), nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP for nil config, got %s", result.Status)
	}
}

func TestCheckAPIKey_NoEnvVar(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = "google"
	t.Setenv("GEMINI_API_KEY", "")

	result := checkAPIKey(context.Background(), cfg)
	if result.Status != "WARN" {
		t.Fatalf("expected WARN, got %s", result.Status)
	}
}

func TestCheckAPIKey_EnvVarSet(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = "google"
	t.Setenv("GEMINI_API_KEY", "test-key")

	result := checkAPIKey(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %s", result.Status)
	}
}

func TestRunProducesAllChecks(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	d := Run(context.Background(), cfg, "test-version")
	if len(d.Results) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(d.Results))
	}
	if d.System.Version != "test-version" {
		t.Fatalf("expected version to be recorded, got %q", d.System.Version)
	}
}
