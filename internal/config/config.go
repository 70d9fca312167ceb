// Package config loads and layers nxclaw's configuration: built-in
// defaults, then <home>/config.json, then environment variable overrides
// (SPEC_FULL.md §2, grounded on the teacher's applyEnvOverrides pattern,
// adapted from YAML to JSON per spec §6's external interface).
package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LLMConfig selects the active LLM provider and its failover chain
// (SPEC_FULL.md §12.1).
type LLMConfig struct {
	Provider                string   `json:"provider"`
	Model                   string   `json:"model"`
	APIKeyEnv               string   `json:"apiKeyEnv"`
	FallbackProviders       []string `json:"fallbackProviders"`
	FailoverThreshold       int      `json:"failoverThreshold"`
	FailoverCooldownSeconds int      `json:"failoverCooldownSeconds"`
}

// TasksConfig mirrors the tunable fields of tasks.Config kept here so they
// can be set from config.json/env without internal/config depending on
// internal/tasks.
type TasksConfig struct {
	MaxConcurrentProcesses int   `json:"maxConcurrentProcesses"`
	DefaultMaxRetries      int   `json:"defaultMaxRetries"`
	DefaultRetryDelayMs    int   `json:"defaultRetryDelayMs"`
	MaxStoredTasks         int   `json:"maxStoredTasks"`
	MaxFinishedTasks       int   `json:"maxFinishedTasks"`
	SandboxImage           string `json:"sandboxImage"`
	SandboxMemoryMB        int64  `json:"sandboxMemoryMb"`
	SandboxNetworkMode     string `json:"sandboxNetworkMode"`
}

// ChromeConfig mirrors chromectl.Config's tunables.
type ChromeConfig struct {
	Mode                 string `json:"mode"`
	DebuggerURL          string `json:"debuggerUrl"`
	ExecutablePath       string `json:"executablePath"`
	Headless             bool   `json:"headless"`
	MaxSessions          int    `json:"maxSessions"`
	ViewportWidth        int    `json:"viewportWidth"`
	ViewportHeight       int    `json:"viewportHeight"`
}

// AutoloopConfig mirrors autoloop's tunables — live-reloadable.
type AutoloopConfig struct {
	Enabled             bool `json:"enabled"`
	TickIntervalSeconds int  `json:"tickIntervalSeconds"`
	MaxConsecutiveFails int  `json:"maxConsecutiveFails"`
	CooldownSeconds     int  `json:"cooldownSeconds"`
}

// TelegramConfig configures the Telegram channel adapter.
type TelegramConfig struct {
	Enabled    bool    `json:"enabled"`
	Token      string  `json:"token"`
	AllowedIDs []int64 `json:"allowedIds"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type SkillsConfig struct {
	AutoEnableOnInstall bool `json:"autoEnableOnInstall"`
	MaxCatalogEntries   int  `json:"maxCatalogEntries"`
	MaxInstallFiles     int  `json:"maxInstallFiles"`
	MaxInstallBytes     int64 `json:"maxInstallBytes"`
	InstallTimeoutMs    int  `json:"installTimeoutMs"`
}

// DashboardConfig configures the HTTP surface (spec §6).
type DashboardConfig struct {
	BindAddr     string   `json:"bindAddr"`
	AuthToken    string   `json:"authToken"`
	AllowOrigins []string `json:"allowOrigins"`
}

// Config is the full layered configuration.
type Config struct {
	HomeDir string `json:"-"`

	LogLevel string `json:"logLevel"`

	// MaxQueueDepth caps the lane queue's total pending depth across all
	// lanes; 0 means unlimited.
	MaxQueueDepth int `json:"maxQueueDepth"`

	LLM       LLMConfig       `json:"llm"`
	Tasks     TasksConfig     `json:"tasks"`
	Chrome    ChromeConfig    `json:"chrome"`
	Autoloop  AutoloopConfig  `json:"autoloop"`
	Channels  ChannelsConfig  `json:"channels"`
	Skills    SkillsConfig    `json:"skills"`
	Dashboard DashboardConfig `json:"dashboard"`

	PolicyPath string `json:"policyPath"`

	NeedsOnboarding bool `json:"-"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:      "info",
		MaxQueueDepth: 200,
		LLM: LLMConfig{
			Provider:                "google",
			FailoverThreshold:       5,
			FailoverCooldownSeconds: 300,
		},
		Tasks: TasksConfig{
			MaxConcurrentProcesses: 4,
			DefaultMaxRetries:      3,
			DefaultRetryDelayMs:    2000,
			MaxStoredTasks:         500,
			MaxFinishedTasks:       100,
		},
		Chrome: ChromeConfig{
			Mode:           "launch",
			MaxSessions:    6,
			ViewportWidth:  1280,
			ViewportHeight: 800,
		},
		Autoloop: AutoloopConfig{
			Enabled:             true,
			TickIntervalSeconds: 60,
			MaxConsecutiveFails: 5,
			CooldownSeconds:     300,
		},
		Skills: SkillsConfig{
			AutoEnableOnInstall: true,
			MaxCatalogEntries:   200,
			MaxInstallFiles:     500,
			MaxInstallBytes:     10 << 20,
			InstallTimeoutMs:    30_000,
		},
		Dashboard: DashboardConfig{
			BindAddr: "127.0.0.1:8787",
		},
	}
}

// HomeDir returns the nxclaw home directory: $NXCLAW_HOME if set, else
// ~/.nxclaw.
func HomeDir() string {
	if override := os.Getenv("NXCLAW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nxclaw")
}

// ConfigPath returns the path to config.json within homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.json")
}

// Load reads defaults, then <home>/config.json, then environment variable
// overrides, in that order.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("config: create home dir: %w", err)
	}

	path := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsOnboarding = true
		} else {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if cfg.PolicyPath == "" {
		cfg.PolicyPath = filepath.Join(cfg.HomeDir, "policy.yaml")
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Tasks.MaxConcurrentProcesses <= 0 {
		cfg.Tasks.MaxConcurrentProcesses = 4
	}
	if cfg.Chrome.MaxSessions <= 0 {
		cfg.Chrome.MaxSessions = 6
	}
	if cfg.Autoloop.TickIntervalSeconds <= 0 {
		cfg.Autoloop.TickIntervalSeconds = 60
	}
	if cfg.Dashboard.BindAddr == "" {
		cfg.Dashboard.BindAddr = "127.0.0.1:8787"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NXCLAW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NXCLAW_BIND_ADDR"); v != "" {
		cfg.Dashboard.BindAddr = v
	}
	if v := os.Getenv("NXCLAW_MAX_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxQueueDepth = n
		}
	}
	if v := os.Getenv("NXCLAW_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("NXCLAW_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("NXCLAW_MAX_CONCURRENT_PROCESSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tasks.MaxConcurrentProcesses = n
		}
	}
	if v := os.Getenv("NXCLAW_AUTOLOOP_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Autoloop.TickIntervalSeconds = n
		}
	}
	if v := os.Getenv("NXCLAW_AUTOLOOP_ENABLED"); v != "" {
		cfg.Autoloop.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
		cfg.Channels.Telegram.Enabled = true
	}
	if v := os.Getenv("NXCLAW_DASHBOARD_TOKEN"); v != "" {
		cfg.Dashboard.AuthToken = v
	}
	if v := os.Getenv("NXCLAW_POLICY_PATH"); v != "" {
		cfg.PolicyPath = v
	}
}

// Save writes cfg back to <home>/config.json (atomic-enough for a rarely
// written, human-editable settings file: full overwrite via os.WriteFile,
// unlike the append-heavy task/audit logs which need atomic rename).
func Save(cfg Config) error {
	path := ConfigPath(cfg.HomeDir)
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// Fingerprint returns a stable hash of the fields that affect runtime
// behavior, for logging/diagnostics when config is reloaded.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|queue=%d|llm=%s/%s|tasks=%d|chrome=%s/%d|autoloop=%v/%d",
		c.LogLevel, c.MaxQueueDepth, c.LLM.Provider, c.LLM.Model,
		c.Tasks.MaxConcurrentProcesses, c.Chrome.Mode, c.Chrome.MaxSessions,
		c.Autoloop.Enabled, c.Autoloop.TickIntervalSeconds)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
