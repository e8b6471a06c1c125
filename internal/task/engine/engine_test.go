package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"duesched/internal/clock"
	"duesched/internal/eventbus"
	logx "duesched/pkg/logx"
)

func newTestEngine(bus eventbus.Bus) *Engine {
	return New(Config{HistorySize: 4}, clock.New(time.Millisecond), logx.Nop(), bus, nil)
}

func TestRunBatchRunsJobsConcurrently(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)

	const n = 5
	var (
		started sync.WaitGroup
		release = make(chan struct{})
	)
	started.Add(n)
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{ID: i, Action: ActionFunc(func(context.Context) error {
			started.Done()
			<-release
			return nil
		})}
	}

	done := make(chan BatchResult, 1)
	go func() { done <- e.RunBatch(context.Background(), Trigger{EventID: 1, DueAt: time.Now()}, jobs) }()

	// Every job must be in flight at the same time before any is released.
	waitCh := make(chan struct{})
	go func() { started.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not run concurrently")
	}
	close(release)

	res := <-done
	if res.Jobs != n || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	seen := map[int]int{}
	for _, h := range e.Snapshot(0).History {
		seen[h.JobID]++
	}
	for i := 0; i < n; i++ {
		if seen[i] != 1 {
			t.Fatalf("job %d recorded %d times: %v", i, seen[i], seen)
		}
	}
}

func TestFailuresAreContained(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	e := newTestEngine(bus)

	var ok atomic.Int32
	jobs := []Job{
		{ID: 0, Action: ActionFunc(func(context.Context) error { return errors.New("boom") })},
		{ID: 1, Action: ActionFunc(func(context.Context) error { panic("kaboom") })},
		{ID: 2, Action: ActionFunc(func(context.Context) error { ok.Add(1); return nil })},
		{ID: 3, Action: ActionFunc(func(context.Context) error { ok.Add(1); return nil })},
	}
	res := e.RunBatch(context.Background(), Trigger{EventID: 9, DueAt: time.Now()}, jobs)
	if res.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", res.Failed)
	}
	if ok.Load() != 2 {
		t.Fatalf("healthy jobs ran %d times, want 2", ok.Load())
	}

	var failed, finished int
	for i := 0; i < 4; i++ {
		ev := <-ch
		switch ev.Type {
		case eventbus.TopicJobFailed:
			failed++
		case eventbus.TopicJobFinished:
			finished++
		}
		je := ev.Data.(JobEvent)
		if je.EventID != 9 {
			t.Fatalf("EventID = %d, want 9", je.EventID)
		}
	}
	if failed != 2 || finished != 2 {
		t.Fatalf("failed=%d finished=%d, want 2/2", failed, finished)
	}

	snap := e.Snapshot(0)
	if snap.JobsRun != 4 || snap.JobsFail != 2 || snap.Batches != 1 {
		t.Fatalf("unexpected snapshot: %s", snap)
	}
	var panics int
	for _, h := range snap.History {
		if h.Error != "" && h.JobID == 1 {
			panics++
		}
	}
	if panics != 1 {
		t.Fatalf("panic not recorded in history: %+v", snap.History)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)
	for i := 0; i < 3; i++ {
		jobs := []Job{{ID: 0, Action: Noop}, {ID: 1, Action: Noop}}
		e.RunBatch(context.Background(), Trigger{EventID: int64(i)}, jobs)
	}
	if got := len(e.Snapshot(0).History); got != 4 {
		t.Fatalf("history len = %d, want 4", got)
	}
}

func TestEmptyBatch(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)
	res := e.RunBatch(context.Background(), Trigger{EventID: 1}, nil)
	if res.Jobs != 0 || e.Snapshot(0).Batches != 0 {
		t.Fatalf("empty batch should be a no-op: %+v", res)
	}
}

func TestPanicErrorIsDetectable(t *testing.T) {
	t.Parallel()
	err := error(panicError{value: "x"})
	if !IsPanic(err) {
		t.Fatal("IsPanic = false")
	}
	if IsPanic(errors.New("plain")) {
		t.Fatal("IsPanic = true for plain error")
	}
}
