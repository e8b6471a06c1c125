package config

import (
	"strings"

	logx "duesched/pkg/logx"
)

// Config is the on-disk configuration. JSON and YAML share one schema;
// unknown keys are rejected so typos surface at load or reload time.
//
// All durations are Go duration strings (e.g. "100ms", "5s").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Metrics    MetricsConfig    `json:"metrics,omitempty"`

	// RunFor bounds the process lifetime. Empty means 5s; "0s" runs until
	// a signal arrives.
	RunFor string `json:"run_for,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx converts the section into the logging service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   strings.TrimSpace(l.Level),
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: strings.TrimSpace(l.File.Path)},
	}
}

// SchedulerConfig controls event generation.
//
// Defaults (when fields are omitted/zero):
//   - interval: "100ms"
//   - max_offset: "500ms"
//   - seed: absent (time-based); 0 is a fixed seed
//   - unit: "1ms"
type SchedulerConfig struct {
	Interval  string `json:"interval,omitempty"`
	MaxOffset string `json:"max_offset,omitempty"`
	Seed      *int64 `json:"seed,omitempty"`

	// DueSpec replaces the random offset: a cron expression, "@every 2s",
	// or a fixed offset such as "offset:250ms".
	DueSpec string `json:"due_spec,omitempty"`

	// Unit is the clock resolution used for offsets and log timestamps.
	Unit string `json:"unit,omitempty"`
}

// DispatcherConfig controls consumption.
//
// Defaults:
//   - idle_interval: "5ms"
//   - empty_poll: "1ms"
//   - history_size: 200
type DispatcherConfig struct {
	IdleInterval string `json:"idle_interval,omitempty"`
	EmptyPoll    string `json:"empty_poll,omitempty"`

	// BusyPoll makes an empty queue spin with only a processor yield.
	BusyPoll bool `json:"busy_poll,omitempty"`

	HistorySize int `json:"history_size,omitempty"`

	// JobWork is how long each accumulated job simulates work. "0s" = no-op.
	JobWork string `json:"job_work,omitempty"`
}

// MetricsConfig controls the diagnostics HTTP server (/metrics, /status,
// /healthz and optionally pprof).
//
// Security note: pprof on a non-loopback addr is refused unless a token is set.
type MetricsConfig struct {
	// Addr serves the endpoints when set (e.g. "127.0.0.1:9464").
	Addr  string `json:"addr,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
	// Token guards pprof and /status (do not log).
	Token string `json:"token,omitempty"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}
