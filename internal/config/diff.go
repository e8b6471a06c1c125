package config

import (
	"strings"

	logx "duesched/pkg/logx"
)

// Section names reported by Changes.
const (
	SectionLogging    = "logging"
	SectionScheduler  = "scheduler"
	SectionDispatcher = "dispatcher"
	SectionMetrics    = "metrics"
	SectionRunFor     = "run_for"
)

// Changes returns the sections that differ between two configs plus fields
// describing the new values, ready for a reload log line.
func Changes(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	fields := make([]logx.Field, 0, 12)

	if oldCfg.Logging.Logx() != newCfg.Logging.Logx() {
		changed = append(changed, SectionLogging)
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Scheduler, newCfg.Scheduler
	if trim(o.Interval) != trim(n.Interval) || trim(o.MaxOffset) != trim(n.MaxOffset) ||
		!sameSeed(o.Seed, n.Seed) || trim(o.DueSpec) != trim(n.DueSpec) || trim(o.Unit) != trim(n.Unit) {
		changed = append(changed, SectionScheduler)
		fields = append(fields,
			logx.String("scheduler.interval", trim(n.Interval)),
			logx.String("scheduler.max_offset", trim(n.MaxOffset)),
			logx.String("scheduler.due_spec", trim(n.DueSpec)),
		)
	}

	if oldCfg.Dispatcher != newCfg.Dispatcher {
		changed = append(changed, SectionDispatcher)
		fields = append(fields,
			logx.String("dispatcher.idle_interval", trim(newCfg.Dispatcher.IdleInterval)),
			logx.String("dispatcher.empty_poll", trim(newCfg.Dispatcher.EmptyPoll)),
			logx.Bool("dispatcher.busy_poll", newCfg.Dispatcher.BusyPoll),
		)
	}

	// Never log the token.
	if trim(oldCfg.Metrics.Addr) != trim(newCfg.Metrics.Addr) || oldCfg.Metrics.Pprof != newCfg.Metrics.Pprof ||
		oldCfg.Metrics.Token != newCfg.Metrics.Token {
		changed = append(changed, SectionMetrics)
		fields = append(fields,
			logx.String("metrics.addr", trim(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
			logx.Bool("metrics.token_set", trim(newCfg.Metrics.Token) != ""),
		)
	}

	if trim(oldCfg.RunFor) != trim(newCfg.RunFor) {
		changed = append(changed, SectionRunFor)
		fields = append(fields, logx.String("run_for", trim(newCfg.RunFor)))
	}

	return changed, fields
}

// LiveSections splits changed into sections applied at runtime and those
// only read at startup.
func LiveSections(changed []string) (live, restart []string) {
	for _, s := range changed {
		if s == SectionLogging {
			live = append(live, s)
		} else {
			restart = append(restart, s)
		}
	}
	return live, restart
}

func trim(s string) string { return strings.TrimSpace(s) }

func sameSeed(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
