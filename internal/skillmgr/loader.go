package skillmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader scans skill source directories for SKILL.md-backed packages,
// grounded on internal/skills/loader.go's LoadAll/LoadOne.
type Loader struct {
	builtinDir   string
	installedDir string
	cfg          Config
	logger       *slog.Logger
}

func NewLoader(builtinDir, installedDir string, cfg Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Loader{builtinDir: builtinDir, installedDir: installedDir, cfg: cfg, logger: logger}
}

// LoadAll scans both source directories, builtin first, deduplicating by
// canonical (lowercased) skill ID — a builtin skill wins over an installed
// one of the same name.
func (l *Loader) LoadAll(ctx context.Context) ([]Skill, error) {
	type scanSpec struct {
		dir    string
		source string
	}
	specs := []scanSpec{
		{dir: l.builtinDir, source: "builtin"},
		{dir: l.installedDir, source: "installed"},
	}

	seen := map[string]bool{}
	var out []Skill
	var errs []error

	for _, spec := range specs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if strings.TrimSpace(spec.dir) == "" {
			continue
		}
		entries, err := os.ReadDir(spec.dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("read skills dir (%s): %w", spec.dir, err))
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, ent := range entries {
			if len(out) >= l.cfg.MaxCatalogEntries {
				break
			}
			if !ent.IsDir() {
				continue
			}
			id := strings.ToLower(ent.Name())
			if seen[id] {
				continue
			}
			skillDir := filepath.Join(spec.dir, ent.Name())
			sk, err := l.LoadOne(skillDir, spec.source)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				errs = append(errs, fmt.Errorf("load skill (%s): %w", ent.Name(), err))
				continue
			}
			out = append(out, sk)
			seen[id] = true
		}
	}
	return out, errors.Join(errs...)
}

// LoadOne parses a single skill directory's SKILL.md.
func (l *Loader) LoadOne(dir, source string) (Skill, error) {
	skillMD := filepath.Join(dir, "SKILL.md")
	fi, err := os.Stat(skillMD)
	if err != nil {
		return Skill{}, err
	}
	if fi.Size() > l.cfg.MaxSkillFileBytes {
		return Skill{}, fmt.Errorf("SKILL.md too large: %d bytes (max %d)", fi.Size(), l.cfg.MaxSkillFileBytes)
	}
	data, err := os.ReadFile(skillMD)
	if err != nil {
		return Skill{}, fmt.Errorf("read SKILL.md: %w", err)
	}
	fm, _, err := parseSkillMD(data)
	if err != nil {
		return Skill{}, err
	}

	eligible, missing := checkEligibility(dir, fm)
	return Skill{
		ID:          strings.ToLower(fm.Name),
		Name:        fm.Name,
		Description: fm.Description,
		Source:      source,
		SourceDir:   dir,
		Script:      fm.Script,
		Eligible:    eligible,
		Missing:     missing,
	}, nil
}

// checkEligibility verifies a skill's declared WASM script (if any) exists
// on disk; unlike the teacher's shell-skill loader there are no external
// binaries or env vars to probe, since skill scripts run inside the wazero
// sandbox rather than exec-ing host binaries.
func checkEligibility(dir string, fm frontmatter) (bool, []string) {
	if fm.Script == "" {
		return true, nil
	}
	scriptPath := filepath.Join(dir, fm.Script)
	if _, err := os.Stat(scriptPath); err != nil {
		return false, []string{fmt.Sprintf("missing script: %s", fm.Script)}
	}
	return true, nil
}
