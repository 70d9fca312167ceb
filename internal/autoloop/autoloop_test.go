package autoloop_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nx/nxclaw/internal/agentsvc"
	"github.com/nx/nxclaw/internal/autoloop"
	"github.com/nx/nxclaw/internal/laneq"
	"github.com/nx/nxclaw/internal/memstore"
	"github.com/nx/nxclaw/internal/objectives"
	"github.com/nx/nxclaw/internal/runtime"
)

type scriptedBrain struct {
	reply string
	err   error
}

func (b *scriptedBrain) Prompt(context.Context, string, string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.reply, nil
}

type blockingBrain struct{ release chan struct{} }

func (b *blockingBrain) Prompt(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newHarness(t *testing.T, brain runtime.Brain, rcfg runtime.Config) (*runtime.Orchestrator, *objectives.Store) {
	t.Helper()
	home := t.TempDir()

	mem, err := memstore.Open(memstore.Config{RootDir: filepath.Join(home, "memory")}, nil, nil)
	if err != nil {
		t.Fatalf("open memstore: %v", err)
	}
	objs, err := objectives.Open(filepath.Join(home, "state", "objectives.json"), nil)
	if err != nil {
		t.Fatalf("open objectives: %v", err)
	}
	sessions := agentsvc.New(agentsvc.Config{MaxLanes: 10}, nil)
	queue := laneq.New(rcfg.MaxQueueDepth, nil)

	orc := runtime.New(runtime.Deps{
		HomeDir:    home,
		Sessions:   sessions,
		Queue:      queue,
		Memory:     mem,
		Objectives: objs,
		NewBrain:   func(string) (runtime.Brain, error) { return brain, nil },
	}, rcfg)
	return orc, objs
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestLoopFiresAndPicksObjective(t *testing.T) {
	orc, objs := newHarness(t, &scriptedBrain{reply: "done"}, runtime.Config{})
	obj, err := objs.Add("write the report", "draft the quarterly report", 5, "user")
	if err != nil {
		t.Fatalf("add objective: %v", err)
	}

	loop := autoloop.New(autoloop.Deps{Orchestrator: orc, Objectives: objs}, autoloop.Config{IntervalMs: 20})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	defer loop.Stop()

	waitFor(t, 2*time.Second, func() bool { return loop.Status().TicksFired > 0 })

	status := loop.Status()
	if status.LastObjectiveID != obj.ID {
		t.Fatalf("expected loop to pick objective %s, got %q", obj.ID, status.LastObjectiveID)
	}
	picked := objs.GetByID(obj.ID)
	if picked == nil || picked.Status != objectives.StatusInProgress {
		t.Fatalf("expected objective marked in_progress, got %+v", picked)
	}
}

func TestLoopSkipsWhenQueueDepthExceeded(t *testing.T) {
	block := &blockingBrain{release: make(chan struct{})}
	orc, objs := newHarness(t, block, runtime.Config{})

	// Occupy the queue with a blocked in-flight turn.
	go orc.HandleIncoming(context.Background(), runtime.Incoming{Source: "telegram", ChannelID: "c", SessionID: "s"}, "hi")
	waitFor(t, time.Second, func() bool { return orc.QueueDepth() > 0 })

	loop := autoloop.New(autoloop.Deps{Orchestrator: orc, Objectives: objs}, autoloop.Config{IntervalMs: 20, SkipWhenQueueAbove: 0})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return loop.Status().TicksSkipped > 0 })
	loop.Stop()
	close(block.release)

	status := loop.Status()
	if status.TicksFired != 0 {
		t.Fatalf("expected no ticks fired while queue was saturated, got %d", status.TicksFired)
	}
}

func TestLoopCircuitBreakerTrips(t *testing.T) {
	brain := &scriptedBrain{err: errors.New("provider unavailable")}
	orc, objs := newHarness(t, brain, runtime.Config{MaxPromptRetries: 1})

	loop := autoloop.New(autoloop.Deps{Orchestrator: orc, Objectives: objs}, autoloop.Config{
		IntervalMs: 15, MaxConsecutiveFailures: 2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	defer loop.Stop()

	waitFor(t, 2*time.Second, func() bool { return !loop.Status().Enabled })

	status := loop.Status()
	if status.DisabledReason == "" {
		t.Fatal("expected a disabled reason once the breaker trips")
	}
	if status.ConsecutiveFailures < 2 {
		t.Fatalf("expected at least 2 consecutive failures recorded, got %d", status.ConsecutiveFailures)
	}
}

func TestLoopDisableEnable(t *testing.T) {
	orc, objs := newHarness(t, &scriptedBrain{reply: "ok"}, runtime.Config{})
	loop := autoloop.New(autoloop.Deps{Orchestrator: orc, Objectives: objs}, autoloop.Config{IntervalMs: 15})

	loop.Disable("operator paused autonomy")
	if loop.Status().Enabled {
		t.Fatal("expected loop to be disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	waitFor(t, time.Second, func() bool { return loop.Status().TicksSkipped > 0 })
	loop.Stop()

	if loop.Status().TicksFired != 0 {
		t.Fatal("expected no ticks fired while disabled")
	}

	loop.Enable()
	if !loop.Status().Enabled {
		t.Fatal("expected loop to be re-enabled")
	}
}
