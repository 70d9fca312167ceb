package skillmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/fsutil"
	"github.com/nx/nxclaw/internal/skillrt"
)

const (
	EventCatalogChanged = "skills.catalog_changed"
	EventInstalled      = "skills.installed"
	EventRemoved        = "skills.removed"
)

// stateFile mirrors <home>/state/skills.json.
type stateFile struct {
	Enabled map[string]bool `json:"enabled"`
}

// Manager is the skill subsystem's single entry point: catalog discovery,
// install/remove, enable/disable, prompt-context previews, and (for
// script-bearing skills) WASM invocation via skillrt.Host.
type Manager struct {
	cfg        Config
	statePath  string
	loader     *Loader
	installer  *Installer
	host       *skillrt.Host
	bus        *bus.Bus
	logger     *slog.Logger

	mu      sync.RWMutex
	skills  map[string]Skill
	enabled map[string]bool
}

// Open builds a Manager, loads persisted enable/disable state, and runs an
// initial catalog scan.
func Open(ctx context.Context, builtinDir, installedDir, statePath string, cfg Config, host *skillrt.Host, b *bus.Bus, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	m := &Manager{
		cfg:       cfg,
		statePath: statePath,
		loader:    NewLoader(builtinDir, installedDir, cfg, logger),
		installer: NewInstaller(installedDir, cfg),
		host:      host,
		bus:       b,
		logger:    logger,
		skills:    map[string]Skill{},
		enabled:   map[string]bool{},
	}

	var sf stateFile
	if err := fsutil.ReadJSON(statePath, &sf); err == nil && sf.Enabled != nil {
		m.enabled = sf.Enabled
	}

	if _, err := m.Reload(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload rescans both skill directories and reapplies persisted enable
// state, defaulting newly discovered skills per AutoEnableOnInstall.
func (m *Manager) Reload(ctx context.Context) ([]Skill, error) {
	found, err := m.loader.LoadAll(ctx)
	if err != nil {
		m.logger.Warn("skillmgr: reload had partial errors", "error", err)
	}

	m.mu.Lock()
	m.skills = make(map[string]Skill, len(found))
	for _, sk := range found {
		if enabled, ok := m.enabled[sk.ID]; ok {
			sk.Enabled = enabled
		} else {
			sk.Enabled = m.cfg.AutoEnableOnInstall
			m.enabled[sk.ID] = sk.Enabled
		}
		m.skills[sk.ID] = sk
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(EventCatalogChanged, map[string]int{"count": len(snapshot)})
	return snapshot, nil
}

func (m *Manager) snapshotLocked() []Skill {
	out := make([]Skill, 0, len(m.skills))
	for _, sk := range m.skills {
		out = append(out, sk)
	}
	return out
}

// Catalog returns every discovered skill, up to MaxCatalogEntries.
func (m *Manager) Catalog() []Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.snapshotLocked()
	if len(out) > m.cfg.MaxCatalogEntries {
		out = out[:m.cfg.MaxCatalogEntries]
	}
	return out
}

// Get returns a single skill by ID.
func (m *Manager) Get(id string) (Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sk, ok := m.skills[strings.ToLower(id)]
	return sk, ok
}

// Enable/Disable toggle a skill's inclusion in prompt-context previews and
// persist the change to skills.json.
func (m *Manager) Enable(id string) error  { return m.setEnabled(id, true) }
func (m *Manager) Disable(id string) error { return m.setEnabled(id, false) }

func (m *Manager) setEnabled(id string, enabled bool) error {
	id = strings.ToLower(id)
	m.mu.Lock()
	sk, ok := m.skills[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("skillmgr: unknown skill %q", id)
	}
	sk.Enabled = enabled
	m.skills[id] = sk
	m.enabled[id] = enabled
	err := m.persistLocked()
	m.mu.Unlock()
	return err
}

func (m *Manager) persistLocked() error {
	return fsutil.WriteJSONAtomic(m.statePath, stateFile{Enabled: m.enabled})
}

// Install copies a skill package into the installed directory and reloads
// the catalog.
func (m *Manager) Install(ctx context.Context, source string) (Skill, error) {
	name, err := m.installer.Install(ctx, source)
	if err != nil {
		return Skill{}, err
	}
	if _, err := m.Reload(ctx); err != nil {
		return Skill{}, err
	}
	sk, ok := m.Get(name)
	if !ok {
		return Skill{}, fmt.Errorf("skillmgr: installed skill %q not found after reload", name)
	}
	m.emit(EventInstalled, map[string]string{"id": sk.ID})
	return sk, nil
}

// Remove deletes an installed skill and reloads the catalog. Builtin
// skills cannot be removed.
func (m *Manager) Remove(ctx context.Context, id string) error {
	sk, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("skillmgr: unknown skill %q", id)
	}
	if sk.Source != "installed" {
		return fmt.Errorf("skillmgr: cannot remove a %s skill", sk.Source)
	}
	if err := m.installer.Remove(sk.ID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.enabled, sk.ID)
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := m.Reload(ctx); err != nil {
		return err
	}
	m.emit(EventRemoved, map[string]string{"id": sk.ID})
	return nil
}

// PromptPreviews renders the enabled-skill preview block the orchestrator
// injects into the composed prompt (spec §4.6 step 4d), bounded by
// MaxPromptSkills and MaxPromptChars.
func (m *Manager) PromptPreviews() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, m.cfg.MaxPromptSkills)
	for _, sk := range m.snapshotLocked() {
		if !sk.Enabled || !sk.Eligible {
			continue
		}
		if len(out) >= m.cfg.MaxPromptSkills {
			break
		}
		line := fmt.Sprintf("%s: %s", sk.Name, sk.Description)
		if len(line) > m.cfg.MaxPromptChars {
			line = line[:m.cfg.MaxPromptChars] + "…"
		}
		out = append(out, line)
	}
	return out
}

// Invoke runs an enabled, script-bearing skill's WASM module inside the
// skillrt.Host sandbox, validating params against the skill's declared
// JSON Schema (its SKILL.md `parameters:` block) first — the one place in
// this runtime where an externally-authored schema validates untrusted
// input.
func (m *Manager) Invoke(ctx context.Context, id string, params json.RawMessage) (int64, error) {
	sk, ok := m.Get(id)
	if !ok {
		return 0, fmt.Errorf("skillmgr: unknown skill %q", id)
	}
	if !sk.Enabled {
		return 0, fmt.Errorf("skillmgr: skill %q is disabled", sk.ID)
	}
	if sk.Script == "" {
		return 0, fmt.Errorf("skillmgr: skill %q has no executable script", sk.ID)
	}
	if m.host == nil {
		return 0, fmt.Errorf("skillmgr: no WASM host configured")
	}

	if err := validateParams(sk, params); err != nil {
		return 0, err
	}

	if !m.host.HasModule(sk.ID) {
		wasmPath := filepath.Join(sk.SourceDir, sk.Script)
		fi, err := os.Stat(wasmPath)
		if err != nil {
			return 0, fmt.Errorf("skillmgr: stat script: %w", err)
		}
		if fi.Size() > m.cfg.MaxSkillFileBytes {
			return 0, fmt.Errorf("skillmgr: script too large: %d bytes (max %d)", fi.Size(), m.cfg.MaxSkillFileBytes)
		}
		data, err := os.ReadFile(wasmPath)
		if err != nil {
			return 0, fmt.Errorf("skillmgr: read script: %w", err)
		}
		if err := m.host.LoadModule(ctx, sk.ID, data); err != nil {
			return 0, err
		}
	}
	return m.host.Invoke(ctx, sk.ID)
}

func validateParams(sk Skill, params json.RawMessage) error {
	// Skills without a declared schema accept any (or no) params.
	fm, _, err := readSkillMD(sk.SourceDir)
	if err != nil || fm.Parameters == nil {
		return nil
	}
	schemaJSON, err := json.Marshal(fm.Parameters)
	if err != nil {
		return fmt.Errorf("skillmgr: marshal declared schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return fmt.Errorf("skillmgr: parse declared schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(sk.ID+".json", doc); err != nil {
		return fmt.Errorf("skillmgr: add schema resource: %w", err)
	}
	schema, err := c.Compile(sk.ID + ".json")
	if err != nil {
		return fmt.Errorf("skillmgr: compile declared schema: %w", err)
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(string(params)))
	if err != nil {
		return fmt.Errorf("skillmgr: invalid params JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("skillmgr: params failed schema validation: %w", err)
	}
	return nil
}

func (m *Manager) emit(eventType string, payload interface{}) {
	if m.bus != nil {
		m.bus.Publish(eventType, payload)
	}
}
