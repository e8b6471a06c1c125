// Package app wires the event queue, scheduler and dispatcher together with
// logging, metrics and config hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"duesched/internal/clock"
	"duesched/internal/config"
	"duesched/internal/event"
	"duesched/internal/eventbus"
	"duesched/internal/metrics"
	"duesched/internal/runtime/supervisor"
	"duesched/internal/task/dispatcher"
	"duesched/internal/task/scheduler"
	logx "duesched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	ov   Overrides
	dur  config.Durations

	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	clk  *clock.Clock

	reg     *prometheus.Registry
	metrics *metrics.Metrics
	metCfg  config.MetricsConfig
	metAddr string
	metLn   net.Listener
	metSrv  *http.Server

	queue *event.Queue
	sched *scheduler.Scheduler
	disp  *dispatcher.Dispatcher
}

// Status is a point-in-time view of the whole app.
type Status struct {
	Scheduler  scheduler.Snapshot
	Dispatcher dispatcher.Snapshot
	Goroutines []supervisor.GoroutineStats
}

func New(cfgPath string, ov Overrides) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// Overrides go on a copy; the manager keeps what the file says.
	eff := *cfg
	ov.apply(&eff)
	cfg = &eff
	dur, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	cfgm.SetLogger(log)
	cfgm.SetValidator(validate)

	clk := clock.New(dur.Unit)
	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	queue := event.NewQueue(log)
	metrics.RegisterQueueDepth(reg, queue.Len)

	sched, err := scheduler.New(scheduler.Config{
		Interval:  dur.Interval,
		MaxOffset: dur.MaxOffset,
		Seed:      cfg.Scheduler.Seed,
		DueSpec:   strings.TrimSpace(cfg.Scheduler.DueSpec),
		Clock:     clk,
	}, queue, log, bus, m)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	disp, err := dispatcher.New(dispatcher.Config{
		IdleInterval: dur.IdleInterval,
		EmptyPoll:    dur.EmptyPoll,
		HistorySize:  cfg.Dispatcher.HistorySize,
		JobFactory:   workFactory(dur.JobWork),
		Clock:        clk,
	}, queue, log, bus, m)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		ov:      ov,
		dur:     dur,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		clk:     clk,
		reg:     reg,
		metrics: m,
		metCfg:  cfg.Metrics,
		metAddr: strings.TrimSpace(cfg.Metrics.Addr),
		queue:   queue,
		sched:   sched,
		disp:    disp,
	}, nil
}

// validate rejects a reloaded config before it is committed.
func validate(_ context.Context, cfg *config.Config) error {
	if _, err := cfg.Durations(); err != nil {
		return err
	}
	if spec := strings.TrimSpace(cfg.Scheduler.DueSpec); spec != "" {
		if _, err := scheduler.ParseDueSpec(spec); err != nil {
			return err
		}
	}
	return nil
}

// RunFor is the configured lifetime; 0 means until a signal arrives.
func (a *App) RunFor() time.Duration { return a.dur.RunFor }

func (a *App) Queue() *event.Queue { return a.queue }

func (a *App) Bus() eventbus.Bus { return a.bus }

// MetricsAddr is the bound metrics listener address, empty when disabled.
func (a *App) MetricsAddr() string {
	if a.metLn == nil {
		return ""
	}
	return a.metLn.Addr().String()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Status() Status {
	st := Status{
		Scheduler:  a.sched.Snapshot(),
		Dispatcher: a.disp.Snapshot(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app: already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if a.metAddr != "" {
		ln, err := net.Listen("tcp", a.metAddr)
		if err != nil {
			a.sup.Cancel()
			return fmt.Errorf("metrics listen %s: %w", a.metAddr, err)
		}
		a.metLn = ln
		a.metSrv = &http.Server{Handler: a.diagMux(), ReadHeaderTimeout: 5 * time.Second}
		a.sup.Go("metrics.http", func(context.Context) error {
			if err := a.metSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		a.log.Info("metrics listening", logx.String("addr", ln.Addr().String()))
	}

	// All timestamps in log lines are relative to this instant.
	a.clk.MarkEpoch()
	a.sched.Start(a.sup.Context())
	a.disp.Start(a.sup.Context())

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Trace("bus", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Duration("run_for", a.dur.RunFor),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

// reloadLoop applies hot-reloaded configs. Only logging is live; other
// sections are read at startup and need a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	if lastApplied != nil {
		cp := *lastApplied
		a.ov.apply(&cp)
		lastApplied = &cp
	}
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// Coalesce bursts: keep only the latest config.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}
		if newCfg == nil {
			continue
		}

		cp := *newCfg
		a.ov.apply(&cp)

		sections, fields := config.Changes(lastApplied, &cp)
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}
		live, restart := config.LiveSections(sections)
		if len(live) > 0 {
			a.logs.Apply(cp.Logging.Logx())
		}
		if len(restart) > 0 {
			a.log.Warn("config sections changed; restart required", logx.String("sections", strings.Join(restart, ",")))
		}
		lastApplied = &cp

		fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
		a.log.Info("config reloaded", fields...)
	}
}

// Wait blocks until the run_for deadline, a fatal error, or ctx is done.
// A ctx canceled with a StopReason cause reports that reason.
func (a *App) Wait(ctx context.Context) StopReason {
	var deadline <-chan time.Time
	if a.dur.RunFor > 0 {
		t := time.NewTimer(a.dur.RunFor)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-deadline:
		return StopRunFor
	case <-a.Done():
		if ctx.Err() != nil {
			return causeOf(ctx)
		}
		return StopFatalError
	case <-ctx.Done():
		return causeOf(ctx)
	}
}

func causeOf(ctx context.Context) StopReason {
	var r StopReason
	if errors.As(context.Cause(ctx), &r) {
		return r
	}
	return StopUnknown
}

// Stop shuts down the dispatcher first so no event fires against a
// half-stopped producer, then the scheduler, then everything else.
//
// The loop steps are bounded only by ctx: an in-flight batch is never
// abandoned before the caller's budget runs out.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	a.step(ctx, "dispatcher", 0, func(c context.Context) error { return a.disp.Stop(c) }, &errs)
	a.step(ctx, "scheduler", 0, func(c context.Context) error { return a.sched.Stop(c) }, &errs)

	a.sup.Cancel()
	a.step(ctx, "metrics", time.Second, func(c context.Context) error {
		if a.metSrv == nil {
			return nil
		}
		return a.metSrv.Shutdown(c)
	}, &errs)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait, &errs)

	st := a.Status()
	a.log.Info("stopped",
		logx.Int64("generated", st.Scheduler.Generated),
		logx.Int64("executed", st.Dispatcher.Executed),
		logx.Int("queue_len", st.Dispatcher.QueueLen),
		logx.Uint64("jobs_run", st.Dispatcher.Engine.JobsRun),
		logx.Uint64("jobs_failed", st.Dispatcher.Engine.JobsFail),
		logx.Uint64("bus_dropped", eventbus.Dropped(a.bus)),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// step runs one shutdown step bounded by max (never beyond ctx's deadline;
// max <= 0 means ctx alone). A step that overruns is logged and left to
// finish in the background.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error, errs *[]error) {
	start := time.Now()
	var (
		stepCtx context.Context
		cancel  context.CancelFunc
	)
	if max > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, max)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			*errs = append(*errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		*errs = append(*errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
