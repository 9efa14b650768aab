package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrRowWidth is returned by LoadBatches when a row does not carry one value
// per column.
var ErrRowWidth = errors.New("row width does not match columns")

// LoadBatches inserts l.Rows into l.Table through w, batchSize rows per
// CopyFrom call. Rows are checked against l.Columns before the first batch is
// sent. It returns the rows reported inserted and the number of CopyFrom
// calls made, counting a failed one.
//
// Cancellation between batches returns ctx.Err(). Progress is logged at
// debug level after each batch.
func LoadBatches(ctx context.Context, log *zap.Logger, w Writer, l Load, batchSize int) (int64, int64, error) {
	if batchSize <= 0 {
		return 0, 0, fmt.Errorf("batchSize must be > 0")
	}
	if w == nil {
		return 0, 0, fmt.Errorf("writer must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	for i, row := range l.Rows {
		if len(row) != len(l.Columns) {
			return 0, 0, fmt.Errorf("%w: %s row %d has %d values for %d columns",
				ErrRowWidth, l.Table, i, len(row), len(l.Columns))
		}
	}

	var (
		total   int64
		batches int64
		start   = time.Now()
		last    = start
	)
	for lo := 0; lo < len(l.Rows); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return total, batches, err
		}
		hi := min(lo+batchSize, len(l.Rows))

		n, err := w.CopyFrom(ctx, l.Table, l.Columns, l.Rows[lo:hi])
		total += n
		batches++
		if err != nil {
			log.Warn("loader: copy failed",
				zap.Int64("batch", batches), zap.Int64("after", n), zap.Int64("total", total), zap.Error(err))
			return total, batches, err
		}

		now := time.Now()
		rps := float64(0)
		if d := now.Sub(last); d > 0 {
			rps = float64(n) / d.Seconds()
		}
		log.Debug("loader: batch",
			zap.Int64("batch", batches),
			zap.Float64("rps", rps),
			zap.Int64("inserted", n),
			zap.Int64("total_inserted", total),
			zap.Duration("elapsed", now.Sub(start).Truncate(time.Millisecond)),
		)
		last = now
	}
	log.Debug("loader: done", zap.Int64("batches", batches), zap.Int64("total_inserted", total))
	return total, batches, nil
}
