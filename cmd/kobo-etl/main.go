// Command kobo-etl loads the KoboToolbox stock report export into
// anne_2.tinto, replacing the table on every run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"koboetl/internal/config"
	"koboetl/internal/datasource/httpds"
	"koboetl/internal/metrics"
	"koboetl/internal/metrics/datadog"
	"koboetl/internal/pipeline"
	"koboetl/internal/storage"

	// register all backends with the storage factory.
	_ "koboetl/internal/storage/all"
)

const jobName = "kobo-etl"

// backendCloser is the metrics backend as seen by main: it must also be
// closable so the final flush happens on exit.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps carries everything run touches outside the process.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	// Lookup reads configuration; os.LookupEnv in production.
	Lookup config.Lookup
	// LoadDotEnv populates the environment from a file before Lookup runs.
	LoadDotEnv func(path string) error

	HTTPClient     httpds.Doer
	Open           pipeline.OpenFunc
	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	NewRunID       func() string
}

type runConfig struct {
	EnvFile      string
	DryRun       bool
	Verbose      bool
	Timeout      time.Duration
	MetricsFlush time.Duration
}

func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Lookup:     os.LookupEnv,
		LoadDotEnv: config.LoadDotEnv,
		Open:       storage.New,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		NewRunID: uuid.NewString,
	})
	os.Exit(code)
}

// run executes one load and returns an exit code.
//
// Exit codes:
//   - 0: success, or the source refused the export (non-200 status).
//   - 1: configuration, network, or database failure.
//   - 2: invalid flags.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.NewRunID == nil {
		d.NewRunID = uuid.NewString
	}

	rc, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}

	logger := log.New(d.Stderr, "", log.LstdFlags)
	rep := pipeline.NewReporter(d.Stdout)

	rep.LoadingConfig()
	if d.LoadDotEnv != nil {
		if err := d.LoadDotEnv(rc.EnvFile); err != nil {
			fmt.Fprintf(d.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	cfg := config.Load(d.Lookup)

	closeMetrics := initMetrics(ctx, d, cfg.Metrics, rc, logger)
	defer closeMetrics()

	client := d.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: rc.Timeout}
	}

	runner := &pipeline.Runner{
		Config:   cfg,
		Fetcher:  &httpds.Fetcher{Client: client, JobName: jobName},
		Open:     d.Open,
		Reporter: rep,
		JobName:  jobName,
		RunID:    d.NewRunID(),
		DryRun:   rc.DryRun,
	}
	if rc.Verbose {
		runner.Logger = logger
	}

	start := time.Now()
	res, err := runner.Run(ctx)
	if err != nil {
		fmt.Fprintf(d.Stderr, "Error: %v\n", err)
		return 1
	}
	if rc.Verbose {
		logger.Printf("run_id=%s status=%d rows=%d inserted=%d completed in %s",
			runner.RunID, res.StatusCode, res.Rows, res.Inserted, time.Since(start).Truncate(time.Millisecond))
	}
	return 0
}

// initMetrics installs the configured backend and returns its closer. Init
// failures are logged and the run continues without metrics.
func initMetrics(ctx context.Context, d deps, mc config.MetricsConfig, rc runConfig, logger *log.Logger) func() {
	nop := func() {}

	switch mc.Backend {
	case "", "none":
		if rc.Verbose {
			logger.Printf("metrics: disabled (backend=%q)", mc.Backend)
		}
		return nop

	case "datadog":
		if d.BackendFactory == nil {
			logger.Printf("metrics: no datadog factory; metrics disabled")
			return nop
		}
		tags := datadog.ParseTagsCSV(mc.TagsCSV)
		b, err := d.BackendFactory(ctx, jobName, tags, rc.MetricsFlush)
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return nop
		}
		if rc.Verbose {
			logger.Printf("metrics: backend=datadog job_name=%s tags=%v", jobName, tags)
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}

	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", mc.Backend)
		return nop
	}
}

// parseFlags parses args without exiting the process.
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet(jobName, flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var rc runConfig
	fs.StringVar(&rc.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
	fs.BoolVar(&rc.DryRun, "dry-run", false, "fetch and clean only; do not touch the database")
	fs.BoolVar(&rc.Verbose, "v", false, "enable verbose logs")
	fs.DurationVar(&rc.Timeout, "timeout", 0, "HTTP timeout for the export download (0 means none)")
	fs.DurationVar(&rc.MetricsFlush, "metrics_flush", time.Minute, "Datadog flush interval")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if fs.NArg() > 0 {
		return runConfig{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if rc.Timeout < 0 {
		return runConfig{}, errors.New("-timeout must be >= 0")
	}
	return rc, nil
}
