package policy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nx/nxclaw/internal/policy"
)

func TestLoadDefaultDenyWhenMissing(t *testing.T) {
	p, err := policy.Load(filepath.Join(t.TempDir(), "missing-policy.yaml"))
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if p.AllowHTTPURL("https://example.com") {
		t.Fatal("default policy must deny all HTTP")
	}
	if p.AllowCapability("tools.exec") {
		t.Fatal("default policy must deny capabilities")
	}
}

func TestLoadAllowlistedDomain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("allow_domains:\n  - api.weather.com\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	p, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if !p.AllowHTTPURL("https://api.weather.com/v3/conditions") {
		t.Fatal("expected allowlisted domain to be allowed")
	}
	if p.AllowHTTPURL("https://evil.example.com") {
		t.Fatal("expected non-allowlisted domain to be denied")
	}
}

func TestLoadBlocksPrivateHosts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("allow_domains:\n  - internal\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	p, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if p.AllowHTTPURL("http://10.0.0.5/internal") {
		t.Fatal("expected private IP to be blocked regardless of domain allowlist")
	}
}

func TestLoadUnknownCapabilityRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("allow_capabilities:\n  - tools.exec\n  - tools.unknown\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, err := policy.Load(path); err == nil {
		t.Fatal("expected unknown capability to be rejected")
	}
}

func TestReloadFromFileInvalidRetainsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("allow_capabilities:\n  - tools.exec\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	good, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	lp := policy.NewLivePolicy(good, "")

	if err := os.WriteFile(path, []byte("allow_capabilities:\n  - not_a_real_cap\n"), 0o644); err != nil {
		t.Fatalf("write invalid policy: %v", err)
	}
	if err := policy.ReloadFromFile(lp, path); err == nil {
		t.Fatal("expected reload of invalid policy to fail")
	}
	if !lp.AllowCapability("tools.exec") {
		t.Fatal("expected previous policy to remain active after failed reload")
	}
}

func TestAllowCapabilityGrantPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	lp := policy.NewLivePolicy(policy.Default(), path)

	if err := lp.AllowCapabilityGrant("tools.browser"); err != nil {
		t.Fatalf("grant capability: %v", err)
	}
	if !lp.AllowCapability("tools.browser") {
		t.Fatal("expected granted capability to be allowed")
	}

	reloaded, err := policy.Load(path)
	if err != nil {
		t.Fatalf("reload persisted policy: %v", err)
	}
	if !reloaded.AllowCapability("tools.browser") {
		t.Fatal("expected granted capability to persist to disk")
	}
}

func TestAllowCapabilityGrantRejectsUnknown(t *testing.T) {
	lp := policy.NewLivePolicy(policy.Default(), "")
	if err := lp.AllowCapabilityGrant("not_a_real_cap"); err == nil {
		t.Fatal("expected unknown capability grant to be rejected")
	}
}

func TestPolicyVersionChangesWithContent(t *testing.T) {
	a := policy.Default()
	b := policy.Policy{AllowCapabilities: []string{"tools.exec"}}
	if a.PolicyVersion() == b.PolicyVersion() {
		t.Fatal("expected different policy content to produce different versions")
	}
}

func TestAllowPathEmptyAllowlistPermitsAll(t *testing.T) {
	p := policy.Default()
	if !p.AllowPath("/anything/goes") {
		t.Fatal("expected empty AllowPaths to permit all paths")
	}
}

func TestAllowPathRestrictsToPrefix(t *testing.T) {
	dir := t.TempDir()
	p := policy.Policy{AllowPaths: []string{dir}}
	if !p.AllowPath(filepath.Join(dir, "file.txt")) {
		t.Fatal("expected path under allowed prefix to be allowed")
	}
	if p.AllowPath("/etc/passwd") {
		t.Fatal("expected path outside allowed prefix to be denied")
	}
}
