// Package main wires the strike-off objections job: it resolves the pipeline
// from the config file and command line, validates it, sets up logging and
// metrics and hands the run to internal/etl. It never imports database
// drivers or backend packages directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"strikeoffetl/internal/config"
	"strikeoffetl/internal/etl"
	"strikeoffetl/internal/logging"
	"strikeoffetl/internal/metrics"
	"strikeoffetl/internal/metrics/datadog"
	"strikeoffetl/internal/metrics/prompush"
)

// Metrics backends selectable with --metrics-backend.
const (
	backendNone        = "none"
	backendPushgateway = "pushgateway"
	backendDatadog     = "datadog"
)

// errInvalidConfig marks a run stopped by configuration errors.
var errInvalidConfig = errors.New("configuration is invalid")

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	loadPipelineFn = config.Load
	runFn          = etl.Run
	newLoggerFn    = logging.New
	newRunIDFn     = func() string { return ksuid.New().String() }

	newPushgatewayFn = func(job, url string, grouping map[string]string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url, grouping)
	}
	newDatadogFn = func(cfg datadog.Config) (metrics.Backend, error) {
		return datadog.NewBackend(cfg)
	}
)

// runJob executes one invocation. Configuration issues are printed to
// stderr, one per line.
func runJob(ctx context.Context, cmd *cli.Command, stderr io.Writer) error {
	p, err := resolvePipeline(cmd)
	if err != nil {
		return err
	}

	if !printIssues(stderr, config.ValidatePipeline(p)) {
		return errInvalidConfig
	}
	if cmd.Bool(flagValidate) {
		fmt.Fprintf(stderr, "configuration is valid: job=%s tables=%d\n", p.Job, len(p.Tables))
		return nil
	}

	runID := newRunIDFn()
	log, err := newLoggerFn(cmd.String(flagLogLevel), map[string]any{"job": p.Job, "run_id": runID})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	flush, err := setupMetrics(p, runID, log)
	if err != nil {
		return err
	}
	defer flush()

	log.Info("pipeline: start",
		zap.String("database", p.Source.Database),
		zap.String("table", p.Source.Table),
		zap.String("strategy", p.Storage.Strategy),
		zap.Int("tables", len(p.Tables)))

	start := time.Now()
	sum, err := runFn(ctx, p, etl.Options{Log: log, RunID: runID})
	if err != nil {
		log.Error("pipeline: failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return err
	}
	for _, t := range sum.Tables {
		log.Info("pipeline: table",
			zap.String("table", t.Table),
			zap.Int64("inserted", t.Inserted),
			zap.Int64("deleted", t.Deleted),
			zap.Int64("batches", t.Batches))
	}
	log.Info("pipeline: completed",
		zap.Int("documents", sum.Documents),
		zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
	return nil
}

// resolvePipeline loads the pipeline file (or the built-in defaults) and
// applies the invocation settings over it.
func resolvePipeline(cmd *cli.Command) (config.Pipeline, error) {
	var p config.Pipeline
	if path := cmd.String(flagConfig); path != "" {
		var err error
		if p, err = loadPipelineFn(path); err != nil {
			return config.Pipeline{}, err
		}
	} else {
		config.ApplyDefaults(&p)
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{flagTempDir, &p.Storage.TempDir},
		{flagJobName, &p.Job},
		{flagDatabase, &p.Storage.Database},
		{flagStagingPath, &p.Relationalize.StagingPath},
		{flagJobConnection, &p.Storage.Connection},
		{flagCatalog, &p.Source.Catalog},
		{flagMetricsBackend, &p.Metrics.Backend},
		{flagPushgatewayURL, &p.Metrics.PushgatewayURL},
		{flagDatadogAddr, &p.Metrics.DatadogAddr},
	}
	for _, o := range overrides {
		if cmd.IsSet(o.flag) {
			*o.dst = cmd.String(o.flag)
		}
	}
	if p.Metrics.PushgatewayURL == "" {
		p.Metrics.PushgatewayURL = cmd.String(flagPushgatewayURL)
	}
	if p.Metrics.DatadogAddr == "" {
		p.Metrics.DatadogAddr = cmd.String(flagDatadogAddr)
	}
	return p, nil
}

// printIssues writes every issue and reports whether none of them blocks
// the run.
func printIssues(w io.Writer, issues []config.Issue) bool {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	return len(config.Errors(issues)) == 0
}

// setupMetrics installs the configured metrics backend and returns the
// function flushing it at the end of the run.
func setupMetrics(p config.Pipeline, runID string, log *zap.Logger) (func(), error) {
	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "", backendNone:
		log.Debug("metrics: disabled")
		return func() {}, nil
	case backendPushgateway:
		b, err = newPushgatewayFn(p.Job, p.Metrics.PushgatewayURL, map[string]string{"run_id": runID})
	case backendDatadog:
		b, err = newDatadogFn(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			GlobalTags: []string{"job:" + p.Job, "run_id:" + runID},
		})
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", p.Metrics.Backend)
	}
	if err != nil {
		log.Warn("metrics: backend init failed; using nop", zap.String("backend", p.Metrics.Backend), zap.Error(err))
		return func() {}, nil
	}

	log.Info("metrics: enabled", zap.String("backend", p.Metrics.Backend))
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush failed", zap.Error(err))
		}
	}, nil
}

// exitCode maps run errors to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errInvalidConfig):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
