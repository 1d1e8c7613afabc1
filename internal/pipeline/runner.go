// Package pipeline runs the survey load end to end:
// config check, fetch, parse and normalize, schema reset, load.
//
// Stages run strictly in sequence. Only a non-200 fetch status is handled
// gracefully; every other failure aborts the run with a wrapped error.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"koboetl/internal/config"
	"koboetl/internal/datasource/httpds"
	"koboetl/internal/metrics"
	csvparser "koboetl/internal/parser/csv"
	"koboetl/internal/stockreport"
	"koboetl/internal/storage"
	"koboetl/internal/transformer"
)

// ErrFetchStatus is recorded in Result.Err when the source answered with a
// status other than 200. Run itself returns nil in that case.
var ErrFetchStatus = errors.New("pipeline: unexpected fetch status")

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Fetcher retrieves the export. *httpds.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url, username, password string) (httpds.Response, error)
}

// OpenFunc opens the target repository; storage.New in production.
type OpenFunc func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

// Runner wires one run. Config, Fetcher and Open are required unless DryRun
// is set, in which case Open is never called.
type Runner struct {
	Config   config.Config
	Fetcher  Fetcher
	Open     OpenFunc
	Reporter *Reporter
	Logger   Logger

	// JobName labels metrics; RunID is echoed in every log line.
	JobName string
	RunID   string

	// DryRun stops after parsing.
	DryRun bool
}

// Result summarizes a run.
type Result struct {
	StatusCode int
	Rows       int
	Columns    int
	Skipped    int
	BadDates   int
	Inserted   int64
	// Err is ErrFetchStatus when the fetch was refused; nil otherwise.
	Err error
}

// Run executes the pipeline.
//
// Errors:
//   - *config.Error when required settings are missing (Kobo before the fetch,
//     database only after a successful fetch).
//   - httpds.ErrTransport (wrapped) on network failure.
//   - wrapped storage errors for connect, DDL or insert failures; the insert
//     transaction is rolled back and the freshly created table stays empty.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var res Result
	logf := r.logger()
	rep := r.Reporter
	cfg := r.Config

	if err := cfg.Kobo.Validate(); err != nil {
		return res, err
	}
	if r.Fetcher == nil {
		return res, fmt.Errorf("pipeline: Fetcher is required")
	}

	// Fetch.
	rep.Fetching()
	var resp httpds.Response
	err := r.step("fetch", func() error {
		var err error
		resp, err = r.Fetcher.Fetch(ctx, cfg.Kobo.URL, cfg.Kobo.Username, cfg.Kobo.Password)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	res.StatusCode = resp.StatusCode
	if !resp.OK() {
		rep.FetchFailed(resp.StatusCode, resp.Summary())
		logf("run_id=%s stage=fetch status=%d stop", r.RunID, resp.StatusCode)
		res.Err = ErrFetchStatus
		return res, nil
	}
	logf("run_id=%s stage=fetch ok status=%d bytes=%d", r.RunID, resp.StatusCode, len(resp.Body))
	rep.Fetched()

	// Parse + normalize.
	rep.Cleaning()
	var rows [][]any
	err = r.step("transform", func() error {
		ds, err := csvparser.ParseDataset(bytes.NewReader(resp.Body), func(line int, err error) {
			res.Skipped++
			logf("run_id=%s stage=parse skip line=%d err=%v", r.RunID, line, err)
		})
		if err != nil {
			return err
		}
		if !ds.Has(stockreport.DateColumn) {
			logf("run_id=%s stage=transform missing column=%s", r.RunID, stockreport.DateColumn)
		}
		res.BadDates = transformer.CoerceDates(ds, stockreport.DateColumn)
		res.Rows, res.Columns = ds.Len(), ds.Width()
		rows = stockreport.BuildRows(ds)
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("parse: %w", err)
	}
	metrics.RecordRecords(r.JobName, "parsed", res.Rows)
	metrics.RecordRecords(r.JobName, "skipped", res.Skipped)
	metrics.RecordRecords(r.JobName, "invalid_dates", res.BadDates)
	logf("run_id=%s stage=transform ok rows=%d columns=%d skipped=%d invalid_dates=%d",
		r.RunID, res.Rows, res.Columns, res.Skipped, res.BadDates)
	rep.Shape(res.Rows, res.Columns)
	rep.Cleaned()

	if r.DryRun {
		rep.DryRunDone()
		return res, nil
	}

	// Connect.
	if err := cfg.DB.Validate(); err != nil {
		return res, err
	}
	dsn, err := cfg.DB.DSN()
	if err != nil {
		return res, err
	}
	if r.Open == nil {
		return res, fmt.Errorf("pipeline: Open is required")
	}

	rep.Connecting(cfg.DB.Kind)
	var repo storage.Repository
	err = r.step("connect", func() error {
		var err error
		repo, err = r.Open(ctx, storage.Config{Kind: cfg.DB.Kind, DSN: dsn})
		return err
	})
	if err != nil {
		return res, fmt.Errorf("connect: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			repo.Close()
		}
	}()
	rep.Connected(cfg.DB.Kind)

	// Schema reset.
	spec := stockreport.Table(cfg.Target.Schema, cfg.Target.Table)
	err = r.step("ddl", func() error {
		if err := repo.EnsureSchema(ctx, cfg.Target.Schema); err != nil {
			return err
		}
		if err := repo.DropTable(ctx, spec.Name); err != nil {
			return err
		}
		return repo.CreateTable(ctx, spec)
	})
	if err != nil {
		return res, fmt.Errorf("schema: %w", err)
	}
	logf("run_id=%s stage=ddl ok table=%s", r.RunID, spec.Name)
	rep.TableCreated(spec.Name)

	// Load.
	rep.Inserting(cfg.DB.Kind)
	err = r.step("load", func() error {
		var err error
		res.Inserted, err = repo.InsertRows(ctx, spec, spec.ColumnNames(), rows)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("load: %w", err)
	}
	metrics.RecordRecords(r.JobName, "inserted", int(res.Inserted))
	logf("run_id=%s stage=load ok inserted=%d", r.RunID, res.Inserted)
	rep.Inserted(res.Inserted, spec.Name)

	repo.Close()
	closed = true
	rep.Completed()
	return res, nil
}

// step times fn, records it and logs failures.
func (r *Runner) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(r.JobName, name, err, time.Since(start))
	if err != nil {
		r.logger()("run_id=%s stage=%s error duration=%s err=%v", r.RunID, name, durMS(start), err)
	} else {
		r.logger()("run_id=%s stage=%s done duration=%s", r.RunID, name, durMS(start))
	}
	return err
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return r.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
