package tasks

import "time"

// Config bounds the task manager's behavior per spec §4.2 and §6's
// runtime limits table (maxConcurrentTasks, taskRetryLimit,
// taskRetryDelayMs, maxStoredTasks, maxFinishedTasks).
type Config struct {
	MaxConcurrentProcesses int
	DefaultMaxRetries      int
	DefaultRetryDelayMs    int
	MaxStoredTasks         int
	MaxFinishedTasks       int
	PersistDebounce        time.Duration

	// Sandbox enables the Docker executor for runCommand/scheduleCommand
	// instead of the host shell. Empty runs everything on the host.
	SandboxImage       string
	SandboxMemoryMB    int64
	SandboxNetworkMode string
	SandboxWorkspace   string
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentProcesses <= 0 {
		c.MaxConcurrentProcesses = 4
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 0
	}
	if c.DefaultRetryDelayMs < retryDelayFloorMs {
		c.DefaultRetryDelayMs = retryDelayFloorMs
	}
	if c.MaxStoredTasks <= 0 {
		c.MaxStoredTasks = 500
	}
	if c.MaxFinishedTasks <= 0 {
		c.MaxFinishedTasks = 100
	}
	if c.PersistDebounce <= 0 {
		c.PersistDebounce = 300 * time.Millisecond
	}
}

func clampRetries(n, fallback int) int {
	if n < 0 {
		return fallback
	}
	if n > 20 {
		return 20
	}
	return n
}

func clampRetryDelay(ms, fallback int) int {
	if ms <= 0 {
		return fallback
	}
	if ms < retryDelayFloorMs {
		return retryDelayFloorMs
	}
	if ms > 3_600_000 {
		return 3_600_000
	}
	return ms
}
