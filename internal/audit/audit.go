// Package audit records tool-capability grant/deny decisions to an
// append-only JSONL trail, independent of the event bus (SPEC_FULL.md
// §12.2).
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nx/nxclaw/internal/shared"
)

type entry struct {
	Timestamp     string `json:"timestamp"`
	Decision      string `json:"decision"`
	Capability    string `json:"capability"`
	Reason        string `json:"reason"`
	PolicyVersion string `json:"policyVersion"`
	Detail        string `json:"detail,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	denyCount atomic.Int64
)

// Init opens <homeDir>/state/audit.jsonl for appending. Calling it again
// while already open is a no-op.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	stateDir := filepath.Join(homeDir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(stateDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// DenyCount returns the total number of deny decisions since Init.
func DenyCount() int64 {
	return denyCount.Load()
}

// Record appends one decision. decision is "allow" or "deny". detail is
// free text (e.g. the command or URL that triggered the check) and is
// redacted before being written.
func Record(decision, capability, reason, policyVersion, detail string) {
	if decision == "deny" {
		denyCount.Add(1)
	}

	reason = shared.Redact(reason)
	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	ev := entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Decision:      decision,
		Capability:    capability,
		Reason:        reason,
		PolicyVersion: policyVersion,
		Detail:        detail,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = file.Write(append(b, '\n'))
}
