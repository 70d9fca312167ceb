package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicSurvivesConcurrentReaders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := WriteFileAtomic(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"a":2}` {
		t.Fatalf("got %q, want post-write content", data)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files were not cleaned up: %v", entries)
	}
}

func TestReadJSONBacksUpCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("not json"), FileMode); err != nil {
		t.Fatal(err)
	}
	var v map[string]int
	if err := ReadJSON(path, &v); err == nil {
		t.Fatal("expected error for corrupt json")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original file moved aside, stat err = %v", err)
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("expected one corrupt backup, got %v", matches)
	}
}

func TestAppendJSONLineAndReadBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.jsonl")

	type rec struct {
		ID string `json:"id"`
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := AppendJSONLine(path, rec{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	err := ReadJSONLines(path, func(r rec) error {
		got = append(got, r.ID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("got %v", got)
	}
}

func TestRewriteLinesTrimsHead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.jsonl")
	if err := RewriteLines(path, []string{"1", "2", "3"}); err != nil {
		t.Fatal(err)
	}
	if err := RewriteLines(path, []string{"3"}); err != nil {
		t.Fatal(err)
	}
	lines, err := TailLines(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "3" {
		t.Fatalf("got %v", lines)
	}
}

func TestRotateIfOversize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	if err := os.WriteFile(path, make([]byte, 100), FileMode); err != nil {
		t.Fatal(err)
	}
	if err := RotateIfOversize(path, 50); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original removed by rename")
	}
}

func TestSafeSessionKey(t *testing.T) {
	if got := SafeSessionKey("chat:room/42"); got != "chat_room_42" {
		t.Fatalf("got %q", got)
	}
	if got := SafeSessionKey(""); got != "default" {
		t.Fatalf("got %q", got)
	}
}
