package laneq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nx/nxclaw/internal/bus"
)

func TestSameLaneRunsFIFO(t *testing.T) {
	q := New(0, nil)
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), "lane-a", func(ctx context.Context) (string, error) {
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return "", nil
			})
		}(i)
		time.Sleep(2 * time.Millisecond) // ensure submission order
	}
	wg.Wait()

	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("lane did not run FIFO: %v", order)
		}
	}
}

func TestDistinctLanesRunConcurrently(t *testing.T) {
	q := New(0, nil)
	var inFlight int32
	var maxInFlight int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		lane := "lane-" + string(rune('a'+i))
		go func(lane string) {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), lane, func(ctx context.Context) (string, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return "", nil
			})
		}(lane)
	}
	wg.Wait()

	if atomic.LoadInt32(&maxInFlight) < 2 {
		t.Fatalf("expected concurrent execution across lanes, max in flight = %d", maxInFlight)
	}
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	q := New(1, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), "lane-a", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "", nil
		})
	}()
	<-started

	_, err := q.Enqueue(context.Background(), "lane-b", func(ctx context.Context) (string, error) {
		return "", nil
	})
	if err == nil {
		t.Fatal("expected ErrQueueFull")
	}
	if _, ok := err.(ErrQueueFull); !ok {
		t.Fatalf("expected ErrQueueFull, got %T: %v", err, err)
	}
	close(release)
}

func TestLaneRunningReflectsExecution(t *testing.T) {
	q := New(0, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), "lane-a", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "", nil
		})
	}()
	<-started
	if !q.LaneRunning("lane-a") {
		t.Fatal("expected lane-a to report running")
	}
	close(release)
}

func TestEmitIncludesLaneAndQueueDepth(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	sub := b.Subscribe("lane.")
	defer b.Unsubscribe(sub)

	q := New(0, b)
	_, err := q.Enqueue(context.Background(), "lane-a", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var events []bus.Event
	for len(events) < 3 {
		select {
		case ev := <-sub.Ch():
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for lane events, got %d", len(events))
		}
	}

	wantTypes := []string{"lane.enqueue", "lane.start", "lane.end"}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Fatalf("event %d: expected type %q, got %q", i, wantTypes[i], ev.Type)
		}
		payload, ok := ev.Payload.(laneEvent)
		if !ok {
			t.Fatalf("event %d: expected laneEvent payload, got %T", i, ev.Payload)
		}
		if payload.LaneKey != "lane-a" {
			t.Fatalf("event %d: expected laneKey lane-a, got %q", i, payload.LaneKey)
		}
	}

	start := events[1].Payload.(laneEvent)
	if !start.LaneActive {
		t.Fatalf("expected lane.start payload to report the lane active, got %+v", start)
	}
	if start.LaneDepth != 1 || start.TotalDepth != 1 {
		t.Fatalf("expected lane.start payload to report depth 1, got %+v", start)
	}

	end := events[2].Payload.(laneEvent)
	if end.LaneActive {
		t.Fatalf("expected lane.end payload to report the lane inactive, got %+v", end)
	}
	if end.LaneDepth != 0 || end.TotalDepth != 0 {
		t.Fatalf("expected lane.end payload to report depth 0, got %+v", end)
	}
}
