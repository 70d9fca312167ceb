package skillmgr_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nx/nxclaw/internal/skillmgr"
	"github.com/nx/nxclaw/internal/skillrt"
)

func writeSkill(t *testing.T, dir, name, description string, params map[string]any) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	fm := "---\nname: " + name + "\ndescription: " + description + "\n"
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		fm += "script: run.wasm\nparameters: " + string(b) + "\n"
	}
	fm += "---\nBody text.\n"
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(fm), 0o644); err != nil {
		t.Fatalf("write SKILL.md: %v", err)
	}
	if params != nil {
		if err := os.WriteFile(filepath.Join(dir, "run.wasm"), minimalWASM, 0o644); err != nil {
			t.Fatalf("write run.wasm: %v", err)
		}
	}
}

// minimalWASM is the empty module: magic bytes + version 1, no sections.
var minimalWASM = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestManager(t *testing.T, host *skillrt.Host) (*skillmgr.Manager, string, string) {
	t.Helper()
	home := t.TempDir()
	builtinDir := filepath.Join(home, "skills", "builtin")
	installedDir := filepath.Join(home, "skills", "installed")
	statePath := filepath.Join(home, "state", "skills.json")
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		t.Fatalf("mkdir state: %v", err)
	}

	writeSkill(t, filepath.Join(builtinDir, "echo"), "echo", "Echoes input back", nil)

	cfg := skillmgr.Config{AutoEnableOnInstall: true}
	m, err := skillmgr.Open(context.Background(), builtinDir, installedDir, statePath, cfg, host, nil, nil)
	if err != nil {
		t.Fatalf("open manager: %v", err)
	}
	return m, installedDir, statePath
}

func TestManagerCatalogAndPreviews(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	catalog := m.Catalog()
	if len(catalog) != 1 || catalog[0].ID != "echo" {
		t.Fatalf("expected single echo skill, got %+v", catalog)
	}

	previews := m.PromptPreviews()
	if len(previews) != 1 {
		t.Fatalf("expected one preview, got %v", previews)
	}
}

func TestManagerEnableDisablePersists(t *testing.T) {
	m, _, statePath := newTestManager(t, nil)

	if err := m.Disable("echo"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if len(m.PromptPreviews()) != 0 {
		t.Fatal("expected disabled skill to be excluded from previews")
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("expected state file to be written: %v", err)
	}

	// Reopen and confirm the disabled state survived a reload.
	sk, ok := m.Get("echo")
	if !ok || sk.Enabled {
		t.Fatalf("expected echo to remain disabled, got %+v", sk)
	}
}

func TestManagerInstallAndRemove(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	src := t.TempDir()
	writeSkill(t, src, "greeter", "Says hello", nil)

	sk, err := m.Install(context.Background(), src)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if sk.ID != "greeter" || sk.Source != "installed" {
		t.Fatalf("unexpected installed skill: %+v", sk)
	}
	if _, ok := m.Get("greeter"); !ok {
		t.Fatal("expected greeter in catalog after install")
	}

	if err := m.Remove(context.Background(), "greeter"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := m.Get("greeter"); ok {
		t.Fatal("expected greeter removed from catalog")
	}
}

func TestManagerRemoveRejectsBuiltin(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	if err := m.Remove(context.Background(), "echo"); err == nil {
		t.Fatal("expected error removing a builtin skill")
	}
}

func TestManagerInvokeValidatesParams(t *testing.T) {
	ctx := context.Background()
	host, err := skillrt.NewHost(ctx, skillrt.HostConfig{})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	defer host.Close(ctx)

	home := t.TempDir()
	builtinDir := filepath.Join(home, "skills", "builtin")
	installedDir := filepath.Join(home, "skills", "installed")
	statePath := filepath.Join(home, "state", "skills.json")
	os.MkdirAll(filepath.Dir(statePath), 0o755)

	writeSkill(t, filepath.Join(builtinDir, "adder"), "adder", "Adds numbers", map[string]any{
		"type":     "object",
		"required": []string{"a", "b"},
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
	})

	m, err := skillmgr.Open(ctx, builtinDir, installedDir, statePath, skillmgr.Config{AutoEnableOnInstall: true}, host, nil, nil)
	if err != nil {
		t.Fatalf("open manager: %v", err)
	}

	if _, err := m.Invoke(ctx, "adder", json.RawMessage(`{"a":1}`)); err == nil {
		t.Fatal("expected schema validation error for missing required field")
	}

	// Valid params pass schema validation; invocation itself then fails
	// because the minimal WASM module exports nothing callable — that is
	// a skillrt.Fault, not a validation error.
	_, err = m.Invoke(ctx, "adder", json.RawMessage(`{"a":1,"b":2}`))
	if err == nil {
		t.Fatal("expected invoke to fail against an empty module")
	}
	if _, ok := err.(*skillrt.Fault); !ok {
		t.Fatalf("expected a skillrt.Fault once params validate, got %T: %v", err, err)
	}
}
