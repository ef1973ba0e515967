package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startedLoop(t *testing.T, opts ...LoopOption) *EventLoop {
	t.Helper()
	loop := NewEventLoop(opts...)
	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}
	t.Cleanup(func() { _ = loop.Stop(5 * time.Second) })
	return loop
}

func TestEventLoop_Submit(t *testing.T) {
	loop := startedLoop(t)

	var wg sync.WaitGroup
	var ran int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		if err := loop.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&ran, 1)
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	wg.Wait()

	if ran != 50 {
		t.Errorf("Expected 50 tasks to run, got %d", ran)
	}
}

func TestEventLoop_ScheduleFiresAfterDelay(t *testing.T) {
	loop := startedLoop(t)

	start := time.Now()
	fired := make(chan time.Duration, 1)
	loop.Schedule(50*time.Millisecond, func() { fired <- time.Since(start) })

	select {
	case elapsed := <-fired:
		if elapsed < 50*time.Millisecond {
			t.Errorf("Task fired early after %v", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Scheduled task never fired")
	}

	stats := loop.Stats()
	if stats.Scheduled != 1 || stats.Fired != 1 || stats.Pending != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestEventLoop_ScheduleCancel(t *testing.T) {
	loop := startedLoop(t)

	var fired int64
	cancel := loop.Schedule(50*time.Millisecond, func() { atomic.AddInt64(&fired, 1) })

	if !cancel() {
		t.Error("Expected first cancel to succeed")
	}
	if cancel() {
		t.Error("Expected second cancel to report nothing cancelled")
	}

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt64(&fired) != 0 {
		t.Error("Cancelled task fired")
	}
	if loop.Stats().Cancelled != 1 {
		t.Errorf("Expected 1 cancelled task, got %d", loop.Stats().Cancelled)
	}
}

func TestEventLoop_PanicDoesNotStopLoop(t *testing.T) {
	loop := startedLoop(t, WithLoopWorkers(1))

	if err := loop.Submit(func() { panic("callback failure") }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	done := make(chan struct{})
	if err := loop.Submit(func() { close(done) }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Loop stopped processing after a panic")
	}
}

func TestEventLoop_Go(t *testing.T) {
	loop := startedLoop(t)

	value := 0
	if err := loop.Go(context.Background(), func() { value = 42 }); err != nil {
		t.Fatalf("Go failed: %v", err)
	}
	if value != 42 {
		t.Errorf("Expected task to complete before Go returned, got %d", value)
	}
}

func TestEventLoop_StopCancelsPending(t *testing.T) {
	loop := NewEventLoop()
	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start loop: %v", err)
	}

	var fired int64
	loop.Schedule(50*time.Millisecond, func() { atomic.AddInt64(&fired, 1) })
	if err := loop.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt64(&fired) != 0 {
		t.Error("Pending task fired after Stop")
	}

	if cancel := loop.Schedule(time.Millisecond, func() {}); cancel() {
		t.Error("Schedule after Stop should return an inert cancel")
	}
}
