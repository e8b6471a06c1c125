package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultRunFor       = 5 * time.Second
	DefaultInterval     = 100 * time.Millisecond
	DefaultMaxOffset    = 500 * time.Millisecond
	DefaultUnit         = time.Millisecond
	DefaultIdleInterval = 5 * time.Millisecond
	DefaultEmptyPoll    = time.Millisecond
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations holds every duration field of a Config, parsed and defaulted.
type Durations struct {
	RunFor       time.Duration // 0: until signal
	Interval     time.Duration
	MaxOffset    time.Duration // negative: no offset
	Unit         time.Duration
	IdleInterval time.Duration
	EmptyPoll    time.Duration // negative: busy-poll
	JobWork      time.Duration
}

// Durations parses all duration strings, reporting every invalid field.
func (c *Config) Durations() (Durations, error) {
	var (
		d    Durations
		errs []error
		err  error
	)
	if c == nil {
		c = Default()
	}
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		if *dst, err = ParseDurationOrDefault(path, raw, def); err != nil {
			errs = append(errs, err)
		}
	}

	parse(&d.Interval, "scheduler.interval", c.Scheduler.Interval, DefaultInterval)
	parse(&d.Unit, "scheduler.unit", c.Scheduler.Unit, DefaultUnit)
	parse(&d.IdleInterval, "dispatcher.idle_interval", c.Dispatcher.IdleInterval, DefaultIdleInterval)
	parse(&d.EmptyPoll, "dispatcher.empty_poll", c.Dispatcher.EmptyPoll, DefaultEmptyPoll)

	// "0s" is meaningful for these, so only an empty string takes the default.
	if strings.TrimSpace(c.Scheduler.MaxOffset) == "" {
		d.MaxOffset = DefaultMaxOffset
	} else {
		parse(&d.MaxOffset, "scheduler.max_offset", c.Scheduler.MaxOffset, 0)
		if d.MaxOffset == 0 {
			d.MaxOffset = -1
		}
	}
	if strings.TrimSpace(c.RunFor) == "" {
		d.RunFor = DefaultRunFor
	} else {
		parse(&d.RunFor, "run_for", c.RunFor, 0)
	}
	parse(&d.JobWork, "dispatcher.job_work", c.Dispatcher.JobWork, 0)

	if c.Dispatcher.BusyPoll {
		d.EmptyPoll = -1
	}
	if c.Dispatcher.HistorySize < 0 {
		errs = append(errs, errors.New("dispatcher.history_size: must be >= 0"))
	}
	return d, errors.Join(errs...)
}
