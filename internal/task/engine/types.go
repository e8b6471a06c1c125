package engine

import (
	"context"
	"time"
)

// Config controls batch execution.
type Config struct {
	// HistorySize bounds the ring of recent job runs. 0 means 200.
	HistorySize int
}

// Action is the unit of work a Job carries.
type Action interface {
	Run(ctx context.Context) error
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context) error

func (f ActionFunc) Run(ctx context.Context) error { return f(ctx) }

// Noop is the default job action.
var Noop Action = ActionFunc(func(context.Context) error { return nil })

// Job is deferred work accumulated while the dispatcher waits.
//
// ID is scoped to the batch that holds the job: it restarts at 0 after every
// drain, so IDs are not unique across a run.
type Job struct {
	ID     int
	Action Action
}

// Trigger identifies the due event a batch runs for.
type Trigger struct {
	EventID int64
	DueAt   time.Time
}

type HistoryItem struct {
	JobID    int
	EventID  int64
	Started  time.Time
	Lag      time.Duration
	Duration time.Duration
	Error    string
}

// JobEvent is published on the event bus for every job run.
type JobEvent struct {
	JobID    int           `json:"job_id"`
	EventID  int64         `json:"event_id"`
	NowMS    int64         `json:"now_ms"`
	LagMS    int64         `json:"lag_ms"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// BatchResult summarizes one RunBatch call.
type BatchResult struct {
	Trigger Trigger
	Jobs    int
	Failed  int
	Took    time.Duration
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Pending  int
	Batches  uint64
	JobsRun  uint64
	JobsFail uint64
	History  []HistoryItem
}
