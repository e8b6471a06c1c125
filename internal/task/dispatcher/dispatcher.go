// Package dispatcher is the consumer side: one goroutine that keeps the
// queue sorted, executes the head event once it is due and, while waiting,
// converts idle time into background jobs.
//
// All jobs accumulated since the previous due event run concurrently when
// the next one fires. Failed jobs are logged and dropped, never retried.
package dispatcher

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"duesched/internal/clock"
	"duesched/internal/event"
	"duesched/internal/eventbus"
	"duesched/internal/metrics"
	"duesched/internal/runtime/lifecycle"
	"duesched/internal/task/engine"
	logx "duesched/pkg/logx"
)

type Dispatcher struct {
	cfg     Config
	queue   *event.Queue
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	loop   *lifecycle.Loop
	jobs   engine.Batch
	engine *engine.Engine

	executed atomic.Int64
	headWarn *logx.Sampler
}

func New(cfg Config, q *event.Queue, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) (*Dispatcher, error) {
	if q == nil {
		return nil, ErrNilQueue
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	log = log.With(logx.String("comp", "dispatcher"))

	return &Dispatcher{
		cfg:      cfg,
		queue:    q,
		log:      log,
		bus:      bus,
		metrics:  m,
		loop:     lifecycle.New("consumer", log),
		engine:   engine.New(engine.Config{HistorySize: cfg.HistorySize}, cfg.Clock, log, bus, m),
		headWarn: logx.NewSampler(0),
	}, nil
}

// Start begins consumption. Calling Start while running is a no-op.
// A panic inside the loop restarts it rather than ending consumption.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.loop.Start(ctx, true, d.consume) {
		d.log.Info("dispatcher started",
			logx.Duration("idle_interval", d.cfg.IdleInterval),
			logx.Duration("empty_poll", d.cfg.EmptyPoll),
		)
	}
}

// Stop blocks until the consumer goroutine has exited. A batch that is
// already running finishes first; no new iteration starts.
func (d *Dispatcher) Stop(ctx context.Context) error {
	start := time.Now()
	if err := d.loop.Stop(ctx); err != nil {
		return err
	}
	d.log.Info("dispatcher stopped",
		logx.Int64("executed", d.executed.Load()),
		logx.Int("pending_jobs", d.jobs.Len()),
		logx.Int("queue_len", d.queue.Len()),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

func (d *Dispatcher) State() lifecycle.State { return d.loop.State() }

// AddJob queues an externally built job into the pending batch.
func (d *Dispatcher) AddJob(job engine.Job) error { return d.jobs.Add(job) }

// RemoveJob drops pending jobs with the given batch-scoped ID.
func (d *Dispatcher) RemoveJob(id int) bool { return d.jobs.Remove(id) }

func (d *Dispatcher) PendingJobs() int { return d.jobs.Len() }

func (d *Dispatcher) Snapshot() Snapshot {
	return Snapshot{
		State:    d.loop.State(),
		QueueLen: d.queue.Len(),
		Executed: d.executed.Load(),
		Engine:   d.engine.Snapshot(d.jobs.Len()),
	}
}

func (d *Dispatcher) consume(ctx context.Context) error {
	// Job actions outlive Stop: an in-flight batch is never interrupted.
	jobCtx := context.WithoutCancel(ctx)

	for d.loop.Running() && ctx.Err() == nil {
		d.queue.Sort()

		head, ok := d.queue.Peek()
		if !ok {
			d.pause(ctx, d.cfg.EmptyPoll)
			continue
		}

		now := d.cfg.Clock.Now()
		if clock.IsDue(head.DueAt(), now) {
			d.execute(jobCtx, head, now)
			d.remove(head)
			continue
		}

		job := d.jobs.Accumulate(d.newAction())
		d.metrics.JobAccumulated()
		d.log.Trace("job.accumulated", logx.Int("job_id", job.ID), logx.Int64("waiting_for", head.ID()))
		d.pause(ctx, d.cfg.IdleInterval)
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, ev event.Event, now time.Time) {
	clk := d.cfg.Clock
	lag := now.Sub(ev.DueAt())
	x := Executed{
		EventID: ev.ID(),
		DueAt:   ev.DueAt(),
		NowMS:   clk.SinceEpoch(now),
		LagMS:   clk.Elapsed(ev.DueAt(), now),
	}

	jobs := d.jobs.Drain()
	d.log.Info("event.due",
		logx.Int64("event_id", x.EventID),
		logx.Int64("now_ms", x.NowMS),
		logx.Int64("due_ms", clk.SinceEpoch(ev.DueAt())),
		logx.Int64("lag_ms", x.LagMS),
		logx.Int("jobs", len(jobs)),
	)

	res := d.engine.RunBatch(ctx, engine.Trigger{EventID: ev.ID(), DueAt: ev.DueAt()}, jobs)
	x.Jobs, x.Failed, x.Took = res.Jobs, res.Failed, res.Took

	d.executed.Add(1)
	d.metrics.EventExecuted(lag)
	eventbus.Publish(d.bus, eventbus.TopicEventExecuted, x)
}

// remove pops the executed head. With a single consumer the head cannot
// change between Peek and Pop; if it somehow did, the foreign event goes back.
func (d *Dispatcher) remove(ev event.Event) {
	popped, ok := d.queue.Pop()
	if ok && popped.ID() == ev.ID() {
		return
	}
	if ok {
		d.queue.Add(popped)
	}
	d.headWarn.Warn(d.log, "queue.head_changed",
		logx.Int64("executed", ev.ID()),
		logx.Int64("popped", popped.ID()),
		logx.Bool("empty", !ok),
	)
}

func (d *Dispatcher) newAction() engine.Action {
	if d.cfg.JobFactory == nil {
		return engine.Noop
	}
	return d.cfg.JobFactory()
}

func (d *Dispatcher) pause(ctx context.Context, dur time.Duration) {
	if dur < 0 {
		runtime.Gosched()
		return
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
