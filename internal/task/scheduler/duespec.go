package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// dueParser accepts 5- or 6-field cron specs and descriptors like "@every 2s".
var dueParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// fixedOffset makes every event due a constant delay after creation.
type fixedOffset time.Duration

func (f fixedOffset) Next(t time.Time) time.Time { return t.Add(time.Duration(f)) }

// ParseDueSpec turns a due spec into a cron.Schedule.
//
// Supported forms:
//   - Cron: "*/2 * * * * *", "@every 2s", "@hourly"
//   - Fixed offset: "offset:250ms" or a bare Go duration "250ms"
//
// "cron:" forces cron parsing.
func ParseDueSpec(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("due spec required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "offset:"):
		return parseOffset(strings.TrimSpace(s[len("offset:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}
	if sched, err := parseOffset(s); err == nil {
		return sched, nil
	}
	return nil, fmt.Errorf("invalid due spec %q (use cron like '*/2 * * * * *', '@every 2s', or an offset like '250ms')", raw)
}

func parseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression required after 'cron:'")
	}
	sched, err := dueParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron due spec %q: %w", expr, err)
	}
	return sched, nil
}

func parseOffset(v string) (cron.Schedule, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid offset %q: %w", v, err)
	}
	if d < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}
	return fixedOffset(d), nil
}
