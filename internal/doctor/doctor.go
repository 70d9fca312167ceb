// Package doctor implements the `nxclaw status` preflight diagnostics:
// config sanity, provider credential presence, home-dir permissions,
// external tool availability, and provider DNS reachability.
// Grounded on go-claw's internal/doctor/doctor.go, with its SQLite
// checkDatabase check replaced (this repo has no database) by a
// skill-directory-writability check and its git/docker checks adapted to
// this repo's local-install skill manager and optional Docker sandbox.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/nx/nxclaw/internal/config"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"goVersion"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkHomeWritable,
		checkExternalTools,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsOnboarding {
		return CheckResult{Name: "Config", Status: "WARN", Message: "No config.json found (run `nxclaw onboard`)"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: "SKIP", Message: "Config missing"}
	}

	provider := strings.ToLower(cfg.LLM.Provider)
	if provider == "" {
		provider = "google"
	}
	if cfg.LLM.APIKeyEnv != "" {
		if os.Getenv(cfg.LLM.APIKeyEnv) != "" {
			return CheckResult{Name: "API Key", Status: "PASS", Message: fmt.Sprintf("%s is set", cfg.LLM.APIKeyEnv)}
		}
		return CheckResult{
			Name:    "API Key",
			Status:  "WARN",
			Message: fmt.Sprintf("%s not set (required for %s provider)", cfg.LLM.APIKeyEnv, provider),
			Detail:  "run `nxclaw auth` to connect a provider",
		}
	}

	envVars := map[string]string{
		"google":    "GEMINI_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
	}
	envVar, ok := envVars[provider]
	if !ok {
		return CheckResult{Name: "API Key", Status: "PASS", Message: fmt.Sprintf("provider %q has no standard env var; assumed configured out-of-band", provider)}
	}
	if os.Getenv(envVar) != "" {
		return CheckResult{Name: "API Key", Status: "PASS", Message: fmt.Sprintf("%s is set", envVar)}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  "WARN",
		Message: fmt.Sprintf("%s not set (required for %s provider)", envVar, provider),
		Detail:  "run `nxclaw auth` to connect a provider",
	}
}

// checkHomeWritable verifies the home directory and the two subtrees the
// runtime writes to continuously (task logs, installed skills) are
// writable. There is no database to open — every durable record in this
// system is a plain file under homeDir.
func checkHomeWritable(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Home Directory", Status: "SKIP", Message: "Config missing"}
	}

	dirs := []string{
		cfg.HomeDir,
		filepath.Join(cfg.HomeDir, "logs"),
		filepath.Join(cfg.HomeDir, "skills", "installed"),
		filepath.Join(cfg.HomeDir, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CheckResult{Name: "Home Directory", Status: "FAIL", Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
		}
		probe := filepath.Join(dir, ".doctor_write_test")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return CheckResult{Name: "Home Directory", Status: "FAIL", Message: fmt.Sprintf("%s is unwritable: %v", dir, err)}
		}
		os.Remove(probe)
	}
	return CheckResult{Name: "Home Directory", Status: "PASS", Message: fmt.Sprintf("%s and subdirectories are writable", cfg.HomeDir)}
}

func checkExternalTools(ctx context.Context, cfg *config.Config) CheckResult {
	var details []string
	status := "PASS"

	if cfg != nil && cfg.Tasks.SandboxImage != "" {
		if _, err := exec.LookPath("docker"); err != nil {
			details = append(details, "docker: missing (tasks.sandboxImage is set, required for isolated command execution)")
			status = "FAIL"
		} else {
			cmd := exec.CommandContext(ctx, "docker", "info")
			if err := cmd.Run(); err != nil {
				details = append(details, fmt.Sprintf("docker: daemon unreachable (%v)", err))
				status = "FAIL"
			} else {
				details = append(details, "docker: ok")
			}
		}
	} else {
		details = append(details, "docker: skipped (tasks.sandboxImage unset, commands run on host)")
	}

	if cfg != nil && strings.EqualFold(cfg.Chrome.Mode, "launch") {
		if cfg.Chrome.ExecutablePath == "" {
			details = append(details, "chrome: no executablePath configured, relying on autodiscovery")
		} else if _, err := os.Stat(cfg.Chrome.ExecutablePath); err != nil {
			details = append(details, fmt.Sprintf("chrome: executablePath %s not found", cfg.Chrome.ExecutablePath))
			if status == "PASS" {
				status = "WARN"
			}
		} else {
			details = append(details, "chrome: ok")
		}
	} else {
		details = append(details, "chrome: skipped (mode is not launch)")
	}

	return CheckResult{
		Name:    "External Tools",
		Status:  status,
		Message: fmt.Sprintf("checked %d tools", len(details)),
		Detail:  strings.Join(details, "; "),
	}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	provider := strings.ToLower(cfg.LLM.Provider)
	if provider == "" {
		provider = "google"
	}
	endpoints := map[string]string{
		"google":     "generativelanguage.googleapis.com",
		"anthropic":  "api.anthropic.com",
		"openai":     "api.openai.com",
		"openrouter": "openrouter.ai",
	}
	host, ok := endpoints[provider]
	if !ok {
		host = "generativelanguage.googleapis.com"
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s", provider),
	}
}
