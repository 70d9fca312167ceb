package bus

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nx/nxclaw/internal/fsutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishSubscribe(t *testing.T) {
	b := New(Config{})
	sub := b.Subscribe("task.")
	defer b.Unsubscribe(sub)

	b.Publish("task.created", map[string]string{"id": "1"})

	select {
	case ev := <-sub.Ch():
		if ev.Type != "task.created" {
			t.Fatalf("type = %q", ev.Type)
		}
		if ev.Seq == 0 {
			t.Fatal("expected non-zero seq")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New(Config{})
	taskSub := b.Subscribe("task.")
	allSub := b.Subscribe("")
	defer b.Unsubscribe(taskSub)
	defer b.Unsubscribe(allSub)

	b.Publish("lane.enqueue", nil)

	select {
	case <-taskSub.Ch():
		t.Fatal("task subscriber should not have received lane event")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case ev := <-allSub.Ch():
		if ev.Type != "lane.enqueue" {
			t.Fatalf("type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestGetRecentBounded(t *testing.T) {
	b := New(Config{BufferSize: 3})
	for i := 0; i < 10; i++ {
		b.Publish("x", i)
	}
	recent := b.GetRecent(100)
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[len(recent)-1].Payload != 9 {
		t.Fatalf("last payload = %v, want 9", recent[len(recent)-1].Payload)
	}
}

func TestSeqTotalOrder(t *testing.T) {
	b := New(Config{})
	var last uint64
	for i := 0; i < 50; i++ {
		ev := b.Emit("x", nil)
		if ev.Seq <= last {
			t.Fatalf("seq not increasing: %d after %d", ev.Seq, last)
		}
		last = ev.Seq
	}
}

func TestFlushWritesJSONLAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	b := New(Config{Path: path, FlushInterval: 5 * time.Millisecond, MaxFileBytes: 40})
	for i := 0; i < 20; i++ {
		b.Publish("x", map[string]int{"i": i})
	}
	time.Sleep(50 * time.Millisecond)
	b.Close()

	if fsutil.FileSize(path) == 0 && fsutil.FileSize(path+".1") == 0 {
		t.Fatal("expected events written to disk")
	}
}
