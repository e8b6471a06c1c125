package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"duesched/internal/app"
	"duesched/pkg/systemd"
)

type CLI struct {
	Config      string         `help:"Path to a JSON or YAML config file. Empty uses built-in defaults." type:"path" env:"DUESCHED_CONFIG"`
	RunFor      *time.Duration `help:"How long to run before stopping (0 = until signal). Overrides run_for." placeholder:"5s"`
	Seed        *int64         `help:"Seed for due offsets. Overrides scheduler.seed."`
	LogLevel    string         `help:"Log level (trace, debug, info, warn, error). Overrides logging.level."`
	MetricsAddr string         `help:"Serve /metrics on this address. Overrides metrics.addr." placeholder:"127.0.0.1:9464"`
	StopTimeout time.Duration  `help:"Upper bound for graceful shutdown." default:"10s"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("duesched"),
		kong.Description("Generates events with random due times and turns idle time before each due event into a batch of background jobs."),
	)

	if err := run(cli); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cli CLI) error {
	a, err := app.New(cli.Config, app.Overrides{
		Seed:        cli.Seed,
		LogLevel:    cli.LogLevel,
		MetricsAddr: cli.MetricsAddr,
		RunFor:      cli.RunFor,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case s := <-sigs:
			if s == syscall.SIGTERM {
				cancel(app.StopSIGTERM)
			} else {
				cancel(app.StopSIGINT)
			}
		case <-ctx.Done():
		}
	}()

	// Signals end Wait; the app's own context lives until Stop.
	if err := a.Start(context.Background()); err != nil {
		return err
	}
	_, _ = systemd.Ready(runForLabel(a.RunFor()))
	go func() { _ = systemd.Watchdog(ctx) }()

	reason := a.Wait(ctx)

	_, _ = systemd.Stopping(string(reason))
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cli.StopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func runForLabel(d time.Duration) string {
	if d <= 0 {
		return "running until signal"
	}
	return "running for " + d.String()
}
