package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"sparkify/internal/config"
	"sparkify/internal/metrics/datadog"
	"sparkify/internal/metrics/prompush"
	"sparkify/internal/pipeline"
)

// fakeRunner records the number of calls and the last config it received,
// and returns a configurable error.
type fakeRunner struct {
	err   error
	calls atomic.Int64

	mu      sync.Mutex
	lastCfg config.Config
}

func (r *fakeRunner) Run(ctx context.Context, cfg config.Config) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = cfg
	r.mu.Unlock()
	return r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.Job = "job1"
	return cfg
}

// panicDeps fails the test if any side effect runs.
func panicDeps(t *testing.T) appDeps {
	return appDeps{
		loadDotEnv: func(...string) error {
			t.Fatalf("loadDotEnv must not be called")
			return nil
		},
		loadConfig: func(string) (config.Config, error) {
			t.Fatalf("loadConfig must not be called")
			return config.Config{}, nil
		},
		initMetrics: func(context.Context, metricsSettings) (func(), error) {
			t.Fatalf("initMetrics must not be called")
			return func() {}, nil
		},
		newRunner: func(pipeline.Logger) runner {
			t.Fatalf("newRunner must not be called")
			return &fakeRunner{}
		},
		newRunID: func() string { return "run-1" },
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "unknown_flag", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
		{name: "positional_arg", args: []string{"data/song_data"}, wantStderrSub: "usage: sparkify"},
		{name: "bad_bool", args: []string{"-validate=maybe"}, wantStderrSub: "invalid boolean value"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, panicDeps(t))

			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_FullFlow(t *testing.T) {
	t.Parallel()

	// Error precedence is env -> config -> validate -> metrics -> run.
	tests := []struct {
		name             string
		envErr           error
		loadErr          error
		badConfig        bool
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdout       string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{name: "dotenv_error", envErr: errors.New("line 3: unterminated quote"), wantCode: 1, wantStderrSub: "load env:"},
		{name: "load_config_error", loadErr: errors.New("yaml: line 2"), wantCode: 1, wantStderrSub: "load config:"},
		{name: "invalid_config", badConfig: true, wantCode: 1, wantStderrSub: "error: storage.kind:"},
		{name: "init_metrics_error", initMetricsErr: errors.New("metrics unavailable"), wantCode: 1, wantStderrSub: "init metrics:"},
		{name: "runner_error_runs_cleanup", runErr: errors.New("db failed"), wantCode: 1, wantStderrSub: "run: db failed", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{name: "success", wantCode: 0, wantStdout: "ok\n", wantRunnerCalls: 1, wantCleanupCalls: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}

			var cleanupCalls atomic.Int64
			deps := appDeps{
				loadDotEnv: func(paths ...string) error {
					if len(paths) != 1 || paths[0] != ".env" {
						t.Fatalf("dotenv paths=%v, want [.env]", paths)
					}
					return tc.envErr
				},
				loadConfig: func(path string) (config.Config, error) {
					if path != "cfg.yaml" {
						t.Fatalf("loadConfig path=%q, want cfg.yaml", path)
					}
					cfg := validConfig()
					if tc.badConfig {
						cfg.Storage.Kind = "oracle"
					}
					return cfg, tc.loadErr
				},
				initMetrics: func(ctx context.Context, s metricsSettings) (func(), error) {
					if s.JobName != "job1" || s.RunID != "run-1" || s.Backend != "none" {
						t.Fatalf("metrics settings=%+v", s)
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
				newRunner: func(pipeline.Logger) runner { return fr },
				newRunID:  func() string { return "run-1" },
			}

			code := runMain(context.Background(),
				[]string{"-config", "cfg.yaml", "-metrics-backend", "none"},
				&stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if tc.wantStdout != "" {
				if got := stdout.String(); got != tc.wantStdout {
					t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
				}
			} else if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

func TestRunMain_ValidateOnlyAndFlagOverrides(t *testing.T) {
	t.Parallel()

	deps := panicDeps(t)
	deps.loadDotEnv = func(...string) error { return nil }
	deps.loadConfig = func(string) (config.Config, error) { return validConfig(), nil }

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-validate"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "configuration is valid") {
		t.Fatalf("stdout=%q", stdout.String())
	}

	// The flag override is validated like any other value.
	stdout.Reset()
	stderr.Reset()
	code = runMain(context.Background(), []string{"-validate", "-metrics-backend", "statsd"}, &stdout, &stderr, deps)
	if code != 1 || !strings.Contains(stderr.String(), "metrics.backend") {
		t.Fatalf("exit code=%d stderr=%q, want metrics.backend error", code, stderr.String())
	}

	fr := &fakeRunner{}
	deps.initMetrics = func(context.Context, metricsSettings) (func(), error) { return func() {}, nil }
	deps.newRunner = func(pipeline.Logger) runner { return fr }
	stdout.Reset()
	stderr.Reset()
	if code := runMain(context.Background(), []string{"-v"}, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("exit code=%d, stderr=%q", code, stderr.String())
	}
	if fr.lastCfg.Logging.Level != "debug" {
		t.Fatalf("logging level=%q, want debug under -v", fr.lastCfg.Logging.Level)
	}
}

// The tests below swap package-level seams and must not run in parallel.

func swapSeams(t *testing.T) *bytes.Buffer {
	t.Helper()
	oldDD, oldPush, oldSet, oldLog := newDatadogBackend, newPushBackend, setMetricsBackend, logPrintf
	t.Cleanup(func() {
		newDatadogBackend, newPushBackend, setMetricsBackend, logPrintf = oldDD, oldPush, oldSet, oldLog
	})
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }
	return &logged
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	swapSeams(t)
	setMetricsBackend = func(any) {
		t.Fatalf("setMetricsBackend must not be called for none")
	}

	for _, name := range []string{"", "none", "NOOP"} {
		cleanup, err := initMetrics(context.Background(), metricsSettings{Backend: name})
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	logged := swapSeams(t)
	b := &fakeMetricsBackend{}

	var gotOpts datadog.Options
	var sets []any
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(v any) { sets = append(sets, v) }

	cleanup, err := initMetrics(context.Background(), metricsSettings{
		Backend: "datadog", JobName: "jobA", RunID: "r1", Tags: "team:data, tier:batch",
	})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}

	if gotOpts.JobName != "jobA" || gotOpts.RunID != "r1" {
		t.Fatalf("datadog options=%+v", gotOpts)
	}
	if strings.Join(gotOpts.Tags, ",") != "team:data,tier:batch" {
		t.Fatalf("datadog tags=%v", gotOpts.Tags)
	}
	if len(sets) != 1 || sets[0] != b {
		t.Fatalf("setMetricsBackend calls=%v, want the new backend once", sets)
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if len(sets) != 2 || sets[1] != nil {
		t.Fatalf("cleanup did not restore the nop backend: %v", sets)
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Pushgateway_CloseErrorIsLogged(t *testing.T) {
	logged := swapSeams(t)
	b := &fakeMetricsBackend{closeErr: errors.New("push failed")}

	var gotOpts prompush.Options
	newPushBackend = func(opts prompush.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(any) {}

	cleanup, err := initMetrics(context.Background(), metricsSettings{
		Backend: "pushgateway", JobName: "jobB", RunID: "r2", PushgatewayURL: "http://gw:9091",
	})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotOpts.URL != "http://gw:9091" || gotOpts.JobName != "jobB" || gotOpts.Grouping["run_id"] != "r2" {
		t.Fatalf("push options=%+v", gotOpts)
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if !strings.Contains(logged.String(), "metrics: pushgateway close error") || !strings.Contains(logged.String(), "push failed") {
		t.Fatalf("log=%q, want close error with cause", logged.String())
	}
}

func TestInitMetrics_ConstructorErrorIsReturned(t *testing.T) {
	swapSeams(t)
	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) {
		return nil, errors.New("DD_API_KEY missing")
	}
	setMetricsBackend = func(any) { t.Fatalf("setMetricsBackend must not be called on error") }

	cleanup, err := initMetrics(context.Background(), metricsSettings{Backend: "dd"})
	if err == nil || !strings.Contains(err.Error(), "datadog: DD_API_KEY missing") {
		t.Fatalf("err=%v", err)
	}
	cleanup()
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), metricsSettings{Backend: "nope"})
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()

	if !strings.Contains(err.Error(), "unknown metrics backend") || !strings.Contains(err.Error(), "none|datadog|pushgateway") {
		t.Fatalf("err=%q", err.Error())
	}
}

func BenchmarkRunMain_Success_NoIO(b *testing.B) {
	ctx := context.Background()
	fr := &fakeRunner{}
	deps := appDeps{
		loadDotEnv:  func(...string) error { return nil },
		loadConfig:  func(string) (config.Config, error) { return validConfig(), nil },
		initMetrics: func(context.Context, metricsSettings) (func(), error) { return func() {}, nil },
		newRunner:   func(pipeline.Logger) runner { return fr },
		newRunID:    func() string { return "run" },
	}
	args := []string{"-metrics-backend", "none"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var stdout, stderr bytes.Buffer
		if code := runMain(ctx, args, &stdout, &stderr, deps); code != 0 {
			b.Fatalf("code=%d, stderr=%q", code, stderr.String())
		}
	}
}
