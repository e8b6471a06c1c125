package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"duesched/internal/clock"
	"duesched/internal/eventbus"
	"duesched/internal/metrics"
	logx "duesched/pkg/logx"
)

const defaultHistorySize = 200

// Engine runs drained batches: one goroutine per job, joined before
// RunBatch returns. A failing job never affects its siblings.
type Engine struct {
	cfg     Config
	clock   *clock.Clock
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	hmu     sync.Mutex
	history []HistoryItem

	batches  atomic.Uint64
	jobsRun  atomic.Uint64
	jobsFail atomic.Uint64
}

func New(cfg Config, clk *clock.Clock, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Engine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if clk == nil {
		clk = clock.Default()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg, clock: clk, log: log, bus: bus, metrics: m}
}

// RunBatch executes jobs concurrently for the given trigger and waits for all
// of them. Failures are logged and recorded, never returned.
func (e *Engine) RunBatch(ctx context.Context, trig Trigger, jobs []Job) BatchResult {
	start := time.Now()
	res := BatchResult{Trigger: trig, Jobs: len(jobs)}
	if len(jobs) == 0 {
		return res
	}

	var (
		g      errgroup.Group
		failed atomic.Int32
	)
	for _, job := range jobs {
		g.Go(func() error {
			if err := e.runJob(ctx, trig, job); err != nil {
				failed.Add(1)
			}
			// Never fail the group: siblings must all run to completion.
			return nil
		})
	}
	_ = g.Wait()

	res.Failed = int(failed.Load())
	res.Took = time.Since(start)
	e.batches.Add(1)
	e.metrics.BatchRan(res.Jobs)
	return res
}

func (e *Engine) runJob(ctx context.Context, trig Trigger, job Job) (err error) {
	now := e.clock.Now()
	nowMS := e.clock.SinceEpoch(now)
	lagMS := e.clock.Elapsed(trig.DueAt, now)

	e.log.Info("job.run",
		logx.Int("job_id", job.ID),
		logx.Int64("event_id", trig.EventID),
		logx.Int64("now_ms", nowMS),
		logx.Int64("lag_ms", lagMS),
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				err = panicError{value: r, stack: stack}
				e.log.Error("job.panic", logx.Int("job_id", job.ID), logx.Int64("event_id", trig.EventID), logx.Any("panic", r), logx.Stack(stack))
			}
		}()
		if job.Action == nil {
			err = ErrNilAction
			return
		}
		err = job.Action.Run(ctx)
	}()

	dur := time.Since(now)
	item := HistoryItem{JobID: job.ID, EventID: trig.EventID, Started: now, Lag: now.Sub(trig.DueAt), Duration: dur}
	ev := JobEvent{JobID: job.ID, EventID: trig.EventID, NowMS: nowMS, LagMS: lagMS, Duration: dur}

	e.jobsRun.Add(1)
	e.metrics.JobRun(err)
	if err != nil {
		e.jobsFail.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		e.log.Warn("job.failed", logx.Int("job_id", job.ID), logx.Int64("event_id", trig.EventID), logx.Err(err), logx.Duration("dur", dur))
		eventbus.Publish(e.bus, eventbus.TopicJobFailed, ev)
	} else {
		eventbus.Publish(e.bus, eventbus.TopicJobFinished, ev)
	}
	e.record(item)
	return err
}

func (e *Engine) record(item HistoryItem) {
	e.hmu.Lock()
	e.history = append(e.history, item)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}
	e.hmu.Unlock()
}

// Snapshot copies counters and history. pending is supplied by the batch owner.
func (e *Engine) Snapshot(pending int) Snapshot {
	e.hmu.Lock()
	h := make([]HistoryItem, len(e.history))
	copy(h, e.history)
	e.hmu.Unlock()
	return Snapshot{
		Pending:  pending,
		Batches:  e.batches.Load(),
		JobsRun:  e.jobsRun.Load(),
		JobsFail: e.jobsFail.Load(),
		History:  h,
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("pending=%d batches=%d jobs_run=%d jobs_failed=%d", s.Pending, s.Batches, s.JobsRun, s.JobsFail)
}
