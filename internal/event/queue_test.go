package event

import (
	"bytes"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	logx "duesched/pkg/logx"
)

func TestSortOrdersByDueTime(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for round := 0; round < 20; round++ {
		q := NewQueue(logx.Nop())
		n := rng.Intn(50)
		for i := 0; i < n; i++ {
			off := time.Duration(rng.Intn(501)) * time.Millisecond
			q.Add(New(int64(i+1), base, base.Add(off)))
		}
		q.Sort()
		got := q.Snapshot()
		if len(got) != n {
			t.Fatalf("round %d: len = %d, want %d", round, len(got), n)
		}
		for i := 1; i < len(got); i++ {
			if got[i].DueAt().Before(got[i-1].DueAt()) {
				t.Fatalf("round %d: not sorted at %d: %v before %v", round, i, got[i], got[i-1])
			}
		}
	}
}

func TestSortEmptyIsNoop(t *testing.T) {
	t.Parallel()
	var q Queue
	q.Sort()
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	t.Parallel()
	var q Queue
	if _, ok := q.Peek(); ok {
		t.Fatal("Peek on empty queue returned an event")
	}
	now := time.Now()
	q.Add(New(1, now, now.Add(time.Second)))
	q.Add(New(2, now, now))

	head, ok := q.Peek()
	if !ok || head.ID() != 1 {
		t.Fatalf("Peek = %v (ok=%v), want id 1 before sort", head, ok)
	}
	q.Sort()
	head, _ = q.Peek()
	if head.ID() != 2 {
		t.Fatalf("Peek after sort = %d, want 2", head.ID())
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
}

func TestPopFIFOAndEmpty(t *testing.T) {
	t.Parallel()
	var q Queue
	now := time.Now()
	for i := int64(1); i <= 3; i++ {
		q.Add(New(i, now, now))
	}
	for want := int64(1); want <= 3; want++ {
		ev, ok := q.Pop()
		if !ok || ev.ID() != want {
			t.Fatalf("Pop = %v (ok=%v), want %d", ev, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on empty queue returned an event")
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestConcurrentPopIsAtMostOnce(t *testing.T) {
	t.Parallel()
	const total = 5000
	var q Queue
	now := time.Now()
	for i := int64(1); i <= total; i++ {
		q.Add(New(i, now, now.Add(time.Duration(i%17)*time.Millisecond)))
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int, total)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ev, ok := q.Pop()
				if !ok {
					return
				}
				mu.Lock()
				seen[ev.ID()]++
				mu.Unlock()
			}
		}()
	}
	// A sorter running alongside must not corrupt the sequence.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			q.Sort()
		}
	}()
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("popped %d distinct events, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("event %d popped %d times", id, n)
		}
	}
}

func TestConcurrentAddLosesNothing(t *testing.T) {
	t.Parallel()
	var q Queue
	var wg sync.WaitGroup
	now := time.Now()
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Add(New(int64(w*1000+i), now, now))
				if i%10 == 0 {
					q.Sort()
				}
			}
		}()
	}
	wg.Wait()
	if q.Len() != 1000 {
		t.Fatalf("Len = %d, want 1000", q.Len())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	var q Queue
	now := time.Now()
	q.Add(New(1, now, now))
	snap := q.Snapshot()
	snap[0] = New(99, now, now)
	head, _ := q.Peek()
	if head.ID() != 1 {
		t.Fatalf("queue mutated through snapshot: head = %d", head.ID())
	}
}

func TestEventAccessors(t *testing.T) {
	t.Parallel()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := New(3, created, created.Add(250*time.Millisecond))
	if ev.ID() != 3 || !ev.CreatedAt().Equal(created) || ev.Offset() != 250*time.Millisecond {
		t.Fatalf("unexpected event: %v", ev)
	}
}

func TestAnomalyIsRecoveredAndLogged(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	q := NewQueue(logx.NewJSON(&buf, "warn"))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.Add(New(1, base, base.Add(3*time.Second)))
	q.Add(New(2, base, base.Add(time.Second)))

	q.fault = func(op string) { panic("corrupt " + op) }

	if _, ok := q.Pop(); ok {
		t.Fatal("Pop should report empty after an internal failure")
	}
	q.Sort()
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (failed ops must not mutate)", q.Len())
	}
	if got := q.Snapshot(); got[0].ID() != 1 || got[1].ID() != 2 {
		t.Fatalf("order changed by a failed sort: %d, %d", got[0].ID(), got[1].ID())
	}
	if out := buf.String(); !strings.Contains(out, "queue.anomaly") || !strings.Contains(out, "corrupt pop") {
		t.Fatalf("anomaly not logged: %s", out)
	}

	q.fault = nil
	q.Sort()
	if ev, ok := q.Pop(); !ok || ev.ID() != 2 {
		t.Fatalf("Pop after recovery = %v, %v; want event 2", ev.ID(), ok)
	}
}
