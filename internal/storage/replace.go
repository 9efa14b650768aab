package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strikeoffetl/internal/config"
	"strikeoffetl/internal/metrics"
)

// ErrUnknownStrategy is returned by Replace for a strategy it does not know.
var ErrUnknownStrategy = errors.New("unknown replace strategy")

// Load is the full new contents of one destination table.
type Load struct {
	Table      string
	Columns    []string
	Rows       [][]any
	Preactions []string
}

// ReplaceOptions configures Replace.
type ReplaceOptions struct {
	// Strategy is config.StrategyTransaction (default) or
	// config.StrategyPreaction.
	Strategy string
	// Job names the writer lock and labels metrics.
	Job       string
	BatchSize int
	Log       *zap.Logger
}

// Result reports what Replace did to one table.
type Result struct {
	Table    string
	Deleted  int64
	Inserted int64
	Batches  int64
}

// Replace makes loads the complete contents of their tables.
//
// The transaction strategy takes the job's writer lock, deletes every table
// in reverse order, inserts in declared order and commits; on any error
// nothing changes. The preaction strategy runs each table's pre-actions and
// then appends its rows, one table after another, outside a transaction.
func Replace(ctx context.Context, repo Repository, loads []Load, opt ReplaceOptions) ([]Result, error) {
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 10000
	}

	start := time.Now()
	var (
		res []Result
		err error
	)
	switch opt.Strategy {
	case "", config.StrategyTransaction:
		err = repo.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
			var txErr error
			res, txErr = replaceInTx(ctx, tx, loads, opt)
			return txErr
		})
		if err != nil {
			res = nil
		}
	case config.StrategyPreaction:
		res, err = replaceWithPreactions(ctx, repo, loads, opt)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, opt.Strategy)
	}
	metrics.RecordStep(opt.Job, "load", err, time.Since(start))
	if err != nil {
		return res, err
	}
	for _, r := range res {
		metrics.RecordRows(opt.Job, r.Table, "inserted", r.Inserted)
		metrics.RecordRows(opt.Job, r.Table, "deleted", r.Deleted)
		metrics.RecordBatches(opt.Job, r.Table, r.Batches)
	}
	return res, nil
}

func replaceInTx(ctx context.Context, tx Tx, loads []Load, opt ReplaceOptions) ([]Result, error) {
	if err := tx.Lock(ctx, opt.Job); err != nil {
		return nil, fmt.Errorf("lock %q: %w", opt.Job, err)
	}
	res := make([]Result, len(loads))
	for i := len(loads) - 1; i >= 0; i-- {
		n, err := tx.DeleteAll(ctx, loads[i].Table)
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", loads[i].Table, err)
		}
		res[i] = Result{Table: loads[i].Table, Deleted: n}
		opt.Log.Debug("storage: deleted", zap.String("table", loads[i].Table), zap.Int64("rows", n))
	}
	for i, l := range loads {
		n, b, err := insert(ctx, tx, l, opt)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", l.Table, err)
		}
		res[i].Inserted, res[i].Batches = n, b
		opt.Log.Info("storage: loaded", zap.String("table", l.Table), zap.Int64("rows", n), zap.Int64("batches", b))
	}
	return res, nil
}

func replaceWithPreactions(ctx context.Context, repo Repository, loads []Load, opt ReplaceOptions) ([]Result, error) {
	res := make([]Result, 0, len(loads))
	for _, l := range loads {
		for _, stmt := range l.Preactions {
			if err := repo.Exec(ctx, stmt); err != nil {
				return res, fmt.Errorf("preaction %s: %w", l.Table, err)
			}
		}
		n, b, err := insert(ctx, repo, l, opt)
		if err != nil {
			return res, fmt.Errorf("insert %s: %w", l.Table, err)
		}
		res = append(res, Result{Table: l.Table, Inserted: n, Batches: b})
		opt.Log.Info("storage: loaded", zap.String("table", l.Table), zap.Int64("rows", n), zap.Int64("batches", b))
	}
	return res, nil
}

func insert(ctx context.Context, w Writer, l Load, opt ReplaceOptions) (int64, int64, error) {
	return LoadBatches(ctx, opt.Log.With(zap.String("table", l.Table)), w, l, opt.BatchSize)
}
