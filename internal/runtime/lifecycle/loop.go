// Package lifecycle implements the Idle -> Running -> Stopped contract shared
// by the producer and the dispatcher.
//
// A Loop owns one long-lived goroutine through a supervisor. The run flag is
// atomic; Stop clears it, cancels the loop context and joins the goroutine.
// A goroutine that returns without Stop also leaves the loop Stopped.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	"duesched/internal/runtime/supervisor"
	logx "duesched/pkg/logx"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Loop struct {
	name string
	log  logx.Logger

	mu      sync.Mutex
	state   State
	sup     *supervisor.Supervisor
	running atomic.Bool
}

func New(name string, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{name: name, log: log}
}

// Running is the run flag the loop body polls every iteration.
func (l *Loop) Running() bool { return l.running.Load() }

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start spawns run unless the loop is already running (or still stopping),
// in which case it is a no-op and returns false. When restart is true the
// body is restarted after a panic instead of ending the loop.
func (l *Loop) Start(ctx context.Context, restart bool, run func(ctx context.Context) error) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sup != nil {
		l.log.Debug("start ignored: already running", logx.String("loop", l.name))
		return false
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(l.log))
	l.sup = sup
	l.state = StateRunning
	l.running.Store(true)

	if restart {
		sup.GoRestart(l.name, run)
	} else {
		sup.Go(l.name, run)
	}
	go l.watch(sup)
	return true
}

// watch moves the loop to Stopped once sup's goroutine has returned on its
// own (parent ctx canceled, body returned or gave up after a panic). Stop
// still joins the same supervisor.
func (l *Loop) watch(sup *supervisor.Supervisor) {
	err := sup.Wait(context.Background())

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sup != sup {
		return
	}
	if l.running.Load() {
		l.log.Warn("loop exited without stop", logx.String("loop", l.name), logx.Err(err))
	}
	l.sup = nil
	l.state = StateStopped
	l.running.Store(false)
}

// Stop clears the run flag, cancels the loop context and blocks until the
// goroutine has exited. Stopping a loop that is not running is a no-op.
//
// If ctx expires first, Stop returns ctx.Err() and the loop stays in a
// stopping state: Start remains a no-op and a later Stop can wait again.
func (l *Loop) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	sup := l.sup
	l.running.Store(false)
	l.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	err := sup.Wait(ctx)
	if ctx.Err() != nil {
		l.log.Warn("stop timed out", logx.String("loop", l.name), logx.Err(ctx.Err()))
		return ctx.Err()
	}
	if err != nil {
		l.log.Warn("loop exited with error", logx.String("loop", l.name), logx.Err(err))
	}

	l.mu.Lock()
	if l.sup == sup {
		l.sup = nil
		l.state = StateStopped
	}
	l.mu.Unlock()
	return nil
}

// Goroutines exposes supervisor stats for diagnostics.
func (l *Loop) Goroutines() []supervisor.GoroutineStats {
	l.mu.Lock()
	sup := l.sup
	l.mu.Unlock()
	return sup.Snapshot()
}
