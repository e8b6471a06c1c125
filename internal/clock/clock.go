// Package clock converts instants into signed elapsed-time counts.
//
// A Clock measures everything in a fixed unit (milliseconds by default) and
// keeps one reference instant, the epoch. Elapsed(a, b) is signed: a negative
// result means b precedes a, which is how callers tell "not due yet".
package clock

import (
	"sync/atomic"
	"time"
)

// DefaultUnit is used when New is given a non-positive unit.
const DefaultUnit = time.Millisecond

type Clock struct {
	unit  time.Duration
	epoch atomic.Int64 // unix nanos; 0 means "not marked"

	// now is overridable in tests.
	now func() time.Time
}

// New returns a clock whose epoch is already marked.
func New(unit time.Duration) *Clock {
	if unit <= 0 {
		unit = DefaultUnit
	}
	c := &Clock{unit: unit, now: time.Now}
	c.MarkEpoch()
	return c
}

// NewWithNow is New with an injected time source.
func NewWithNow(unit time.Duration, now func() time.Time) *Clock {
	c := New(unit)
	if now != nil {
		c.now = now
		c.MarkEpoch()
	}
	return c
}

func (c *Clock) Unit() time.Duration {
	if c == nil || c.unit <= 0 {
		return DefaultUnit
	}
	return c.unit
}

func (c *Clock) Now() time.Time {
	if c == nil || c.now == nil {
		return time.Now()
	}
	return c.now()
}

// MarkEpoch records now as the reference instant, replacing any prior epoch.
// Callers must not rely on resets in the middle of a run.
func (c *Clock) MarkEpoch() {
	c.epoch.Store(c.Now().UnixNano())
}

// Epoch returns the marked reference instant and whether one was marked.
func (c *Clock) Epoch() (time.Time, bool) {
	n := c.epoch.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// Elapsed returns b-a in clock units, truncated toward zero. Never clamped.
func (c *Clock) Elapsed(a, b time.Time) int64 {
	return int64(b.Sub(a) / c.Unit())
}

// SinceEpoch returns t-epoch in clock units.
//
// Precondition: the epoch is marked. New guarantees that; a zero Clock
// panics here rather than measuring against an arbitrary instant.
func (c *Clock) SinceEpoch(t time.Time) int64 {
	epoch, ok := c.Epoch()
	if !ok {
		panic("clock: SinceEpoch called before MarkEpoch")
	}
	return c.Elapsed(epoch, t)
}

// IsDue reports whether now is at or past due. It compares full-resolution
// instants so unit truncation can never make an event due early.
func IsDue(due, now time.Time) bool {
	return !now.Before(due)
}

// ---- process-wide default ----

var std atomic.Pointer[Clock]

func init() { std.Store(New(DefaultUnit)) }

// Default returns the process-wide millisecond clock.
func Default() *Clock { return std.Load() }

// MarkEpoch resets the process-wide epoch.
func MarkEpoch() { Default().MarkEpoch() }

// Elapsed is Default().Elapsed.
func Elapsed(a, b time.Time) int64 { return Default().Elapsed(a, b) }

// SinceEpoch is Default().SinceEpoch.
func SinceEpoch(t time.Time) int64 { return Default().SinceEpoch(t) }
