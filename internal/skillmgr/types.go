// Package skillmgr implements the optional skill manager (spec §2 row 12):
// catalog discovery, bounded install, enable/disable state, and the
// prompt-context previews the orchestrator injects (spec §4.6 step 4d).
// Grounded on the teacher's internal/skills/{loader,installer,watcher}.go.
package skillmgr

import "time"

// Skill is a discovered or installed skill package (parsed SKILL.md
// frontmatter plus manager-tracked state).
type Skill struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Source      string    `json:"source"` // "builtin" | "installed"
	SourceDir   string    `json:"sourceDir"`
	Script      string    `json:"script,omitempty"` // relative path to a .wasm module, if any
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installedAt"`
	Eligible    bool      `json:"eligible"`
	Missing     []string  `json:"missing,omitempty"`
}

// Config bounds the skill subsystem per spec §6's skills.* option table.
type Config struct {
	Enabled             bool
	MaxCatalogEntries   int
	MaxSkillFileBytes   int64
	MaxInstallFiles     int
	MaxInstallBytes     int64
	InstallTimeoutMs    int
	MaxPromptSkills     int
	MaxPromptChars      int
	AutoEnableOnInstall bool
}

func (c *Config) applyDefaults() {
	if c.MaxCatalogEntries <= 0 {
		c.MaxCatalogEntries = 100
	}
	if c.MaxSkillFileBytes <= 0 {
		c.MaxSkillFileBytes = 1 << 20
	}
	if c.MaxInstallFiles <= 0 {
		c.MaxInstallFiles = 500
	}
	if c.MaxInstallBytes <= 0 {
		c.MaxInstallBytes = 20 << 20
	}
	if c.InstallTimeoutMs <= 0 {
		c.InstallTimeoutMs = 30_000
	}
	if c.MaxPromptSkills <= 0 {
		c.MaxPromptSkills = 8
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = 2000
	}
}
