// Package etl runs the strike-off objections job end to end: extract the
// cataloged documents, relationalize them into frames, build every
// destination table from its frame and replace the destination contents.
package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"strikeoffetl/internal/config"
	"strikeoffetl/internal/metrics"
	"strikeoffetl/internal/relationalize"
	"strikeoffetl/internal/staging"
	"strikeoffetl/internal/storage"
	_ "strikeoffetl/internal/storage/all"
	"strikeoffetl/internal/transformer/builtin"
	"strikeoffetl/pkg/records"
)

// Options carries the per-invocation dependencies of Run.
type Options struct {
	Log *zap.Logger

	// RunID names the staging directories. A new ksuid is used when empty.
	RunID string

	// Repository replaces the backend resolved from the pipeline storage
	// settings. Run does not close it.
	Repository storage.Repository
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Documents int
	Frames    []string

	// StagingDir and TempDir are the run directories written, if any.
	StagingDir string
	TempDir    string

	Tables []storage.Result
}

// Run executes the pipeline p. p is expected to have defaults applied and to
// have passed validation.
func Run(ctx context.Context, p config.Pipeline, opt Options) (Summary, error) {
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	if opt.RunID == "" {
		opt.RunID = ksuid.New().String()
	}
	log := opt.Log
	sum := Summary{RunID: opt.RunID}
	start := time.Now()

	plans, err := planTables(p)
	if err != nil {
		return sum, err
	}

	docs, err := step(p.Job, "extract", func() ([]records.Record, error) {
		return extract(ctx, p, log)
	})
	if err != nil {
		return sum, fmt.Errorf("extract: %w", err)
	}
	sum.Documents = len(docs)
	metrics.RecordRows(p.Job, p.Source.Table, "read", int64(len(docs)))
	log.Info("extract: done", zap.Int("documents", len(docs)))

	frames, err := step(p.Job, "relationalize", func() (relationalize.Frames, error) {
		return flatten(p.Job, docs, p.Relationalize)
	})
	if err != nil {
		return sum, fmt.Errorf("relationalize: %w", err)
	}
	sum.Frames = frames.Names()
	log.Info("relationalize: done", zap.Strings("frames", sum.Frames))

	if p.Relationalize.StagingPath != "" {
		dir, err := stageFrames(p.Relationalize.StagingPath, p.Job, opt.RunID, frames)
		if err != nil {
			return sum, fmt.Errorf("stage frames: %w", err)
		}
		sum.StagingDir = dir
		log.Info("relationalize: staged", zap.String("dir", dir))
	}

	loads, err := step(p.Job, "transform", func() ([]storage.Load, error) {
		return buildTables(ctx, frames, plans, p.Job, log)
	})
	if err != nil {
		return sum, fmt.Errorf("transform: %w", err)
	}

	if p.Storage.TempDir != "" {
		dir, err := stageLoads(p.Storage.TempDir, p.Job, opt.RunID, loads)
		if err != nil {
			return sum, fmt.Errorf("stage loads: %w", err)
		}
		sum.TempDir = dir
	}

	repo := opt.Repository
	kind := p.Storage.Kind
	if repo == nil {
		var dsn string
		if kind, dsn, err = p.ResolveConnection(); err != nil {
			return sum, fmt.Errorf("storage: %w", err)
		}
		repo, err = storage.New(ctx, storage.Config{Kind: kind, DSN: dsn, Database: p.Storage.Database})
		if err != nil {
			return sum, fmt.Errorf("storage: %w", err)
		}
		defer repo.Close()
	}

	if p.Storage.AutoCreateTable {
		if err := ensureTables(ctx, kind, repo, plans, loads); err != nil {
			return sum, fmt.Errorf("auto-create: %w", err)
		}
	}

	sum.Tables, err = storage.Replace(ctx, repo, loads, storage.ReplaceOptions{
		Strategy:  p.Storage.Strategy,
		Job:       p.Job,
		BatchSize: p.Runtime.BatchSize,
		Log:       log,
	})
	if err != nil {
		return sum, fmt.Errorf("load: %w", err)
	}
	log.Info("run: done", zap.Duration("elapsed", time.Since(start)), zap.Int("tables", len(sum.Tables)))
	return sum, nil
}

// step times fn and records it under the job's step metrics.
func step[T any](job, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	metrics.RecordStep(job, name, err, time.Since(start))
	return v, err
}

// flatten relationalizes docs and normalizes every frame once, before the
// table streams share them.
func flatten(job string, docs []records.Record, rc config.Relationalize) (relationalize.Frames, error) {
	frames, err := relationalize.Relationalize(docs, relationalize.Options{
		Root:         rc.RootTable,
		Placeholders: rc.Placeholders,
	})
	if err != nil {
		return relationalize.Frames{}, err
	}
	for _, name := range frames.Names() {
		f, err := frames.Select(name)
		if err != nil {
			return relationalize.Frames{}, err
		}
		if _, err := (builtin.Normalize{}).Apply(f.Rows); err != nil {
			return relationalize.Frames{}, fmt.Errorf("normalize %s: %w", name, err)
		}
		metrics.RecordRows(job, name, "flattened", int64(len(f.Rows)))
	}
	return frames, nil
}

func stageFrames(location, job, runID string, frames relationalize.Frames) (string, error) {
	w, err := staging.New(location, job, runID)
	if err != nil {
		return "", err
	}
	for _, name := range frames.Names() {
		f, err := frames.Select(name)
		if err != nil {
			return "", err
		}
		if _, err := w.WriteRecords(name, f.Rows); err != nil {
			return "", err
		}
	}
	return w.Path(), w.Close()
}

func stageLoads(location, job, runID string, loads []storage.Load) (string, error) {
	w, err := staging.New(location, job, runID)
	if err != nil {
		return "", err
	}
	for _, l := range loads {
		if _, err := w.WriteRelation(records.Relation{Name: l.Table, Columns: l.Columns, Rows: l.Rows}); err != nil {
			return "", err
		}
	}
	return w.Path(), w.Close()
}
