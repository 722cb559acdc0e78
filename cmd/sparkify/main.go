package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sparkify/internal/config"
	"sparkify/internal/logging"
	"sparkify/internal/metrics"
	"sparkify/internal/metrics/datadog"
	"sparkify/internal/metrics/prompush"
	"sparkify/internal/pipeline"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "sparkify/internal/storage/all"
)

// runner is the pipeline seam; *pipeline.Runner satisfies it.
type runner interface {
	Run(ctx context.Context, cfg config.Config) error
}

// metricsSettings is everything initMetrics needs from config and flags.
type metricsSettings struct {
	Backend        string
	JobName        string
	RunID          string
	PushgatewayURL string
	Tags           string
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	loadDotEnv  func(paths ...string) error
	loadConfig  func(path string) (config.Config, error)
	initMetrics func(ctx context.Context, s metricsSettings) (func(), error)
	newRunner   func(logger pipeline.Logger) runner
	newRunID    func() string
}

func defaultDeps() appDeps {
	return appDeps{
		loadDotEnv:  config.LoadDotEnv,
		loadConfig:  config.Load,
		initMetrics: initMetrics,
		newRunner:   func(l pipeline.Logger) runner { return pipeline.NewDefaultRunner(l) },
		newRunID:    func() string { return uuid.NewString() },
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain loads config, initializes logging and metrics, and executes one
// run. Exit codes: 0 success, 1 config or run failure, 2 usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("sparkify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        string
		envFile        string
		metricsBackend string
		validate       bool
		verbose        bool
	)
	fs.StringVar(&cfgPath, "config", "", "YAML config path (optional; defaults and SPARKIFY_* env apply)")
	fs.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config; missing is fine")
	fs.StringVar(&metricsBackend, "metrics-backend", "", "override metrics.backend (none|datadog|pushgateway)")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: sparkify [-config path.yaml] [-validate] [-v] [-metrics-backend name]\nunexpected argument %q\n", fs.Arg(0))
		return 2
	}

	if err := deps.loadDotEnv(envFile); err != nil {
		fmt.Fprintf(stderr, "load env: %v\n", err)
		return 1
	}

	cfg, err := deps.loadConfig(strings.TrimSpace(cfgPath))
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if metricsBackend != "" {
		cfg.Metrics.Backend = metricsBackend
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	zl, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Timestamp: true,
		Output:    stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "init logging: %v\n", err)
		return 1
	}
	runID := deps.newRunID()
	zl = zl.With().Str("run_id", runID).Str("job", cfg.Job).Logger()

	cleanup, err := deps.initMetrics(ctx, metricsSettings{
		Backend:        cfg.Metrics.Backend,
		JobName:        cfg.Job,
		RunID:          runID,
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		Tags:           cfg.Metrics.Tags,
	})
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	if err := deps.newRunner(logging.Printer(zl, zerolog.InfoLevel)).Run(ctx, cfg); err != nil {
		zl.Error().Err(err).Msg("run failed")
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	zl.Debug().Dur("duration", time.Since(start).Truncate(time.Millisecond)).Msg("completed")

	fmt.Fprintln(stdout, "ok")
	return 0
}

// metricsBackend is what initMetrics owns and closes.
type metricsBackend interface {
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newPushBackend = func(opts prompush.Options) (metricsBackend, error) {
		b, err := prompush.NewBackend(opts)
		if err != nil {
			return nil, err
		}
		return pushCloser{b}, nil
	}
	setMetricsBackend = func(b any) {
		if b == nil {
			metrics.SetBackend(nil)
			return
		}
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// pushCloser pushes once at shutdown; the Pushgateway keeps the last push.
type pushCloser struct{ *prompush.Backend }

func (p pushCloser) Close() error { return p.Flush() }

// initMetrics wires the configured backend into the metrics package. The
// returned cleanup is never nil and flushes the backend.
func initMetrics(ctx context.Context, s metricsSettings) (func(), error) {
	noop := func() {}

	var (
		b    metricsBackend
		err  error
		name string
	)
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case "", "none", "noop":
		return noop, nil
	case "datadog", "dd":
		name = "datadog"
		b, err = newDatadogBackend(ctx, datadog.Options{
			JobName:    s.JobName,
			RunID:      s.RunID,
			Tags:       datadog.ParseTagsCSV(s.Tags),
			FlushEvery: 60 * time.Second,
		})
	case "pushgateway", "prompush":
		name = "pushgateway"
		b, err = newPushBackend(prompush.Options{
			URL:      s.PushgatewayURL,
			JobName:  s.JobName,
			Grouping: map[string]string{"run_id": s.RunID},
		})
	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", s.Backend)
	}
	if err != nil {
		return noop, fmt.Errorf("%s: %w", name, err)
	}

	setMetricsBackend(b)
	return func() {
		if err := b.Close(); err != nil {
			logPrintf("metrics: %s close error: %v", name, err)
		}
		setMetricsBackend(nil)
	}, nil
}
