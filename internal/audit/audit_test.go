package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("deny", "tools.exec", "missing_capability", "policy-abc", "rm -rf /")
	Record("allow", "tools.memory_read", "capability_granted", "policy-abc", "search query")

	path := filepath.Join(home, "state", "audit.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least two audit entries, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first audit entry: %v", err)
	}
	if first["decision"] != "deny" {
		t.Fatalf("expected deny decision, got %#v", first["decision"])
	}
	if first["capability"] != "tools.exec" {
		t.Fatalf("expected capability tools.exec, got %#v", first["capability"])
	}
	if first["reason"] == "" || first["policyVersion"] == "" {
		t.Fatalf("expected reason and policyVersion in audit entry: %#v", first)
	}
}

func TestDenyCountIncrementsOnlyForDeny(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	before := DenyCount()
	Record("allow", "tools.exec", "ok", "policy-v1", "")
	Record("deny", "tools.exec", "no", "policy-v1", "")
	if got := DenyCount() - before; got != 1 {
		t.Fatalf("expected DenyCount to increase by 1, got %d", got)
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("allow", "test.op1", "test", "pol-v1", "subject1")
	Record("deny", "test.op2", "test2", "pol-v1", "subject2")

	path := filepath.Join(home, "state", "audit.jsonl")
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}
	size1 := info1.Size()

	Record("allow", "test.op3", "test3", "pol-v1", "subject3")

	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	if info2.Size() <= size1 {
		t.Fatalf("expected file to grow (append-only), size before=%d after=%d", size1, info2.Size())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if _, ok := e["timestamp"]; !ok {
			t.Fatalf("line %d missing timestamp", i)
		}
		if _, ok := e["decision"]; !ok {
			t.Fatalf("line %d missing decision", i)
		}
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("deny", "tools.exec", "token=sk-abcdef1234567890", "pol-v1", "curl -H 'Authorization: Bearer sk-abcdef1234567890'")

	path := filepath.Join(home, "state", "audit.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(raw), "sk-abcdef1234567890") {
		t.Fatal("expected secret-shaped value to be redacted from audit log")
	}
}
