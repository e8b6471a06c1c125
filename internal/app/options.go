package app

import (
	"context"
	"strings"
	"time"

	"duesched/internal/config"
	"duesched/internal/task/engine"
)

// Overrides are command-line values that win over the config file. They
// are re-applied on every reload.
type Overrides struct {
	Seed        *int64
	LogLevel    string
	MetricsAddr string
	RunFor      *time.Duration
}

func (o Overrides) apply(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if o.Seed != nil {
		seed := *o.Seed
		cfg.Scheduler.Seed = &seed
	}
	if s := strings.TrimSpace(o.LogLevel); s != "" {
		cfg.Logging.Level = s
	}
	if s := strings.TrimSpace(o.MetricsAddr); s != "" {
		cfg.Metrics.Addr = s
	}
	if o.RunFor != nil {
		cfg.RunFor = o.RunFor.String()
	}
}

// workFactory returns a JobFactory whose jobs sleep for d, or nil (no-op
// jobs) when d is zero.
func workFactory(d time.Duration) func() engine.Action {
	if d <= 0 {
		return nil
	}
	return func() engine.Action {
		return engine.ActionFunc(func(ctx context.Context) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		})
	}
}
