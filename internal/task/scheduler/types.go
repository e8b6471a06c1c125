package scheduler

import (
	"time"

	"duesched/internal/clock"
	"duesched/internal/runtime/lifecycle"
)

const (
	DefaultInterval  = 100 * time.Millisecond
	DefaultMaxOffset = 500 * time.Millisecond
)

// Config controls event generation.
type Config struct {
	// Interval is the generation cadence.
	Interval time.Duration
	// MaxOffset bounds the random due offset (inclusive). 0 means 500ms,
	// negative means every event is due when created.
	MaxOffset time.Duration
	// Seed feeds the offset RNG. nil picks a time-based seed; 0 is a
	// seed like any other.
	Seed *int64
	// DueSpec, if set, replaces the random offset (see ParseDueSpec).
	DueSpec string

	// Clock measures now/due in log lines. nil uses clock.Default().
	Clock *clock.Clock
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxOffset < 0 {
		c.MaxOffset = 0
	} else if c.MaxOffset == 0 {
		c.MaxOffset = DefaultMaxOffset
	}
	if c.Seed == nil {
		seed := time.Now().UnixNano()
		c.Seed = &seed
	}
	if c.Clock == nil {
		c.Clock = clock.Default()
	}
	return c
}

// Generated is published on the bus for every new event.
type Generated struct {
	EventID   int64     `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
	DueAt     time.Time `json:"due_at"`
	NowMS     int64     `json:"now_ms"`
	DueMS     int64     `json:"due_ms"`
}

type Snapshot struct {
	State     lifecycle.State
	Generated int64
	Interval  time.Duration
	MaxOffset time.Duration
	DueSpec   string
}
