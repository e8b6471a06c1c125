package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"duesched/internal/config"
	"duesched/internal/runtime/lifecycle"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunAndStop(t *testing.T) {
	path := writeConfig(t, "duesched.yaml", `
logging:
  level: error
scheduler:
  interval: 20ms
  max_offset: 30ms
  seed: 5
dispatcher:
  job_work: 1ms
metrics:
  addr: 127.0.0.1:0
`)
	a, err := New(path, Overrides{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}

	time.Sleep(300 * time.Millisecond)

	resp, err := http.Get("http://" + a.MetricsAddr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"duesched_events_generated_total", "duesched_queue_depth"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("/metrics missing %s", name)
		}
	}

	resp, err = http.Get("http://" + a.MetricsAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	var live Status
	err = json.NewDecoder(resp.Body).Decode(&live)
	resp.Body.Close()
	if err != nil || live.Scheduler.Generated == 0 {
		t.Fatalf("unexpected /status: %+v (err %v)", live, err)
	}
	resp, err = http.Get("http://" + a.MetricsAddr() + "/debug/pprof/")
	if err != nil {
		t.Fatalf("GET pprof: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pprof status %d, want 404 when disabled", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopRunFor); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	st := a.Status()
	if st.Scheduler.Generated == 0 || st.Dispatcher.Executed == 0 {
		t.Fatalf("nothing happened: %+v", st)
	}
	if st.Scheduler.State != lifecycle.StateStopped || st.Dispatcher.State != lifecycle.StateStopped {
		t.Fatalf("loops not stopped: scheduler=%s dispatcher=%s", st.Scheduler.State, st.Dispatcher.State)
	}

	n := a.Queue().Len()
	time.Sleep(100 * time.Millisecond)
	if a.Queue().Len() != n {
		t.Fatalf("queue changed after Stop: %d -> %d", n, a.Queue().Len())
	}
}

func TestWaitRunFor(t *testing.T) {
	runFor := 50 * time.Millisecond
	a, err := New("", Overrides{RunFor: &runFor, LogLevel: "error"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if a.RunFor() != runFor {
		t.Fatalf("RunFor = %v, want %v", a.RunFor(), runFor)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopRunFor) }()

	if got := a.Wait(context.Background()); got != StopRunFor {
		t.Fatalf("Wait = %s, want %s", got, StopRunFor)
	}
}

func TestWaitReportsCause(t *testing.T) {
	forever := time.Duration(0)
	a, err := New("", Overrides{RunFor: &forever, LogLevel: "error"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopSIGTERM) }()

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(StopSIGTERM)
	if got := a.Wait(ctx); got != StopSIGTERM {
		t.Fatalf("Wait = %s, want %s", got, StopSIGTERM)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name, file, data string
	}{
		{name: "bad due spec", file: "c.json", data: `{"scheduler":{"due_spec":"whenever it fits"}}`},
		{name: "unknown key", file: "c.yaml", data: "plugins: {}\n"},
		{name: "bad duration", file: "c.yaml", data: "run_for: soon\n"},
	}
	for _, tt := range tests {
		if _, err := New(writeConfig(t, tt.file, tt.data), Overrides{LogLevel: "error"}); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing.json"), Overrides{}); err == nil {
		t.Fatal("missing file: expected error")
	}
}

func TestOverridesApply(t *testing.T) {
	t.Parallel()
	seed := int64(11)
	runFor := 2 * time.Second
	cfg := config.Default()
	Overrides{Seed: &seed, LogLevel: " debug ", MetricsAddr: ":9464", RunFor: &runFor}.apply(cfg)

	if cfg.Scheduler.Seed == nil || *cfg.Scheduler.Seed != 11 || cfg.Logging.Level != "debug" || cfg.Metrics.Addr != ":9464" || cfg.RunFor != "2s" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	before := *cfg
	Overrides{}.apply(cfg)
	if *cfg != before {
		t.Fatal("empty overrides changed the config")
	}
}

func TestReloadAppliesLogging(t *testing.T) {
	a, err := New("", Overrides{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.logs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := make(chan *config.Config, 2)
	done := make(chan struct{})
	go func() {
		a.reloadLoop(ctx, sub)
		close(done)
	}()

	next := config.Default()
	next.Logging.Level = "warn"
	next.Scheduler.Interval = "1s"
	sub <- next

	deadline := time.Now().Add(2 * time.Second)
	for a.logs.Config().Level != "warn" {
		if time.Now().After(deadline) {
			t.Fatalf("logging level = %q, want warn", a.logs.Config().Level)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestWorkFactory(t *testing.T) {
	t.Parallel()
	if workFactory(0) != nil {
		t.Fatal("zero work should mean no-op jobs")
	}
	f := workFactory(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f().Run(ctx); err == nil {
		t.Fatal("canceled job should return the context error")
	}
}

func TestStopWaitsForLongBatch(t *testing.T) {
	path := writeConfig(t, "duesched.yaml", `
logging:
  level: error
scheduler:
  interval: 20ms
  due_spec: offset:50ms
dispatcher:
  job_work: 2200ms
run_for: 0s
`)
	a, err := New(path, Overrides{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	if err := a.Stop(ctx, StopSIGTERM); err != nil {
		t.Fatalf("Stop error after %v: %v", time.Since(start), err)
	}
	st := a.Status()
	if st.Dispatcher.State != lifecycle.StateStopped {
		t.Fatalf("dispatcher state = %s, want stopped", st.Dispatcher.State)
	}
	if st.Dispatcher.Engine.JobsRun == 0 {
		t.Fatalf("the in-flight batch did not finish: %+v", st.Dispatcher.Engine)
	}
}
