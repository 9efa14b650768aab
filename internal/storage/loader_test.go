package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// batchWriter records the size of every CopyFrom call and fails the call
// numbered failAt (1-based) when set.
type batchWriter struct {
	sizes  []int
	failAt int
	cancel context.CancelFunc
}

func (*batchWriter) Exec(context.Context, string, ...any) error { return nil }

func (*batchWriter) DeleteAll(context.Context, string) (int64, error) { return 0, nil }

func (w *batchWriter) CopyFrom(_ context.Context, _ string, _ []string, rows [][]any) (int64, error) {
	w.sizes = append(w.sizes, len(rows))
	if w.cancel != nil {
		w.cancel()
	}
	if len(w.sizes) == w.failAt {
		return 0, errors.New("copy failed")
	}
	return int64(len(rows)), nil
}

func attachments(n int) Load {
	l := Load{Table: "strike_off_objection_attachment", Columns: []string{"id", "strike_off_objection_id"}}
	for i := 0; i < n; i++ {
		l.Rows = append(l.Rows, []any{i, "o1"})
	}
	return l
}

func TestLoadBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		rows        int
		batchSize   int
		failAt      int
		wantSizes   []int
		wantTotal   int64
		wantBatches int64
		wantErr     bool
	}{
		{name: "uneven", rows: 7, batchSize: 3, wantSizes: []int{3, 3, 1}, wantTotal: 7, wantBatches: 3},
		{name: "exact", rows: 4, batchSize: 2, wantSizes: []int{2, 2}, wantTotal: 4, wantBatches: 2},
		{name: "one batch", rows: 2, batchSize: 10, wantSizes: []int{2}, wantTotal: 2, wantBatches: 1},
		{name: "empty table", rows: 0, batchSize: 5, wantTotal: 0, wantBatches: 0},
		{name: "second batch fails", rows: 5, batchSize: 2, failAt: 2, wantSizes: []int{2, 2}, wantTotal: 2, wantBatches: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := &batchWriter{failAt: tt.failAt}
			total, batches, err := LoadBatches(context.Background(), zaptest.NewLogger(t), w, attachments(tt.rows), tt.batchSize)
			if tt.wantErr {
				assert.ErrorContains(t, err, "copy failed")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantSizes, w.sizes)
			assert.Equal(t, tt.wantTotal, total)
			assert.Equal(t, tt.wantBatches, batches)
		})
	}
}

func TestLoadBatches_RowWidth(t *testing.T) {
	t.Parallel()

	l := attachments(3)
	l.Rows[2] = []any{"a3"}
	w := &batchWriter{}

	_, _, err := LoadBatches(context.Background(), nil, w, l, 1)
	require.ErrorIs(t, err, ErrRowWidth)
	assert.ErrorContains(t, err, "row 2 has 1 values for 2 columns")
	assert.Empty(t, w.sizes, "nothing is sent when a row is malformed")
}

func TestLoadBatches_StopsBetweenBatchesOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &batchWriter{cancel: cancel}

	total, batches, err := LoadBatches(ctx, nil, w, attachments(6), 2)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), batches)
}

func TestLoadBatches_InvalidArgs(t *testing.T) {
	t.Parallel()

	_, _, err := LoadBatches(context.Background(), nil, &batchWriter{}, attachments(1), 0)
	assert.ErrorContains(t, err, "batchSize must be > 0")
	_, _, err = LoadBatches(context.Background(), nil, nil, attachments(1), 1)
	assert.ErrorContains(t, err, "writer must not be nil")
}
