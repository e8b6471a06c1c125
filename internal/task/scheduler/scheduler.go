package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"duesched/internal/event"
	"duesched/internal/eventbus"
	"duesched/internal/metrics"
	"duesched/internal/runtime/lifecycle"
	logx "duesched/pkg/logx"
)

// Scheduler generates events into a shared queue from its own goroutine.
type Scheduler struct {
	cfg     Config
	queue   *event.Queue
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	loop *lifecycle.Loop
	due  cron.Schedule // nil: random offset

	// rng is only touched by the generation goroutine (one at a time).
	rng *rand.Rand

	// lastID survives Stop/Start so IDs stay monotonic per instance.
	lastID atomic.Int64
}

func New(cfg Config, q *event.Queue, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) (*Scheduler, error) {
	if q == nil {
		return nil, ErrNilQueue
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	s := &Scheduler{
		cfg:     cfg,
		queue:   q,
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		metrics: m,
		rng:     rand.New(rand.NewSource(*cfg.Seed)),
	}
	if cfg.DueSpec != "" {
		sched, err := ParseDueSpec(cfg.DueSpec)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		s.due = sched
	}
	s.loop = lifecycle.New("producer", s.log)
	return s, nil
}

// Start begins generation. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	// Tokens refill once per interval; the first one is available immediately.
	lim := rate.NewLimiter(rate.Every(s.cfg.Interval), 1)
	if s.loop.Start(ctx, false, func(c context.Context) error {
		s.produce(c, lim)
		return nil
	}) {
		s.log.Info("scheduler started",
			logx.Duration("interval", s.cfg.Interval),
			logx.Duration("max_offset", s.cfg.MaxOffset),
			logx.Int64("seed", *s.cfg.Seed),
			logx.String("due_spec", s.cfg.DueSpec),
		)
	}
}

// Stop blocks until the generation goroutine has exited. No event is added
// after Stop returns nil.
func (s *Scheduler) Stop(ctx context.Context) error {
	start := time.Now()
	if err := s.loop.Stop(ctx); err != nil {
		return err
	}
	s.log.Info("scheduler stopped", logx.Int64("generated", s.lastID.Load()), logx.Duration("took", time.Since(start)))
	return nil
}

func (s *Scheduler) State() lifecycle.State { return s.loop.State() }

func (s *Scheduler) Snapshot() Snapshot {
	return Snapshot{
		State:     s.loop.State(),
		Generated: s.lastID.Load(),
		Interval:  s.cfg.Interval,
		MaxOffset: s.cfg.MaxOffset,
		DueSpec:   s.cfg.DueSpec,
	}
}

func (s *Scheduler) produce(ctx context.Context, lim *rate.Limiter) {
	for s.loop.Running() {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		// Stop may have landed while we were waiting for the next tick.
		if !s.loop.Running() {
			return
		}
		s.generate()
	}
}

func (s *Scheduler) generate() event.Event {
	clk := s.cfg.Clock
	now := clk.Now()
	ev := event.New(s.lastID.Add(1), now, s.dueFor(now))
	s.queue.Add(ev)

	g := Generated{
		EventID:   ev.ID(),
		CreatedAt: ev.CreatedAt(),
		DueAt:     ev.DueAt(),
		NowMS:     clk.SinceEpoch(now),
		DueMS:     clk.SinceEpoch(ev.DueAt()),
	}
	s.log.Info("event.generated", logx.Int64("event_id", g.EventID), logx.Int64("now_ms", g.NowMS), logx.Int64("due_ms", g.DueMS))
	eventbus.Publish(s.bus, eventbus.TopicEventGenerated, g)
	s.metrics.EventGenerated()
	return ev
}

func (s *Scheduler) dueFor(now time.Time) time.Time {
	if s.due != nil {
		return s.due.Next(now)
	}
	unit := s.cfg.Clock.Unit()
	steps := int64(s.cfg.MaxOffset / unit)
	return now.Add(time.Duration(s.rng.Int63n(steps+1)) * unit)
}
