package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	name   string
	value  float64
	labels Labels
}

// recorder keeps every call in order.
type recorder struct {
	mu         sync.Mutex
	counters   []sample
	histograms []sample
	flushes    int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, sample{name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms = append(r.histograms, sample{name, value, labels})
}

func (r *recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

// install swaps in a recorder for the duration of the test. Tests using it
// must not run in parallel.
func install(t *testing.T) *recorder {
	t.Helper()
	orig := current()
	t.Cleanup(func() { SetBackend(orig) })
	r := &recorder{}
	SetBackend(r)
	return r
}

func TestRecordStep(t *testing.T) {
	r := install(t)

	RecordStep("strike-off-objections", "relationalize", nil, 2*time.Second)
	RecordStep("strike-off-objections", "load", errors.New("deadlock"), 1500*time.Millisecond)

	require.Len(t, r.counters, 2)
	require.Len(t, r.histograms, 2)
	assert.Equal(t, sample{StepTotal, 1, Labels{"job": "strike-off-objections", "step": "relationalize", "status": "success"}}, r.counters[0])
	assert.Equal(t, sample{StepDuration, 2, Labels{"job": "strike-off-objections", "step": "relationalize", "status": "success"}}, r.histograms[0])
	assert.Equal(t, "failure", r.counters[1].labels["status"])
	assert.InDelta(t, 1.5, r.histograms[1].value, 1e-9)
}

func TestRecordRowsAndBatches(t *testing.T) {
	r := install(t)

	RecordRows("j", "root", "read", 3)
	RecordRows("j", "root", "read", 0)
	RecordRows("j", "strike_off_objection_attachment", "unmatched", -2)
	RecordRows("j", "strike_off_objection", "inserted", 5)
	RecordBatches("j", "strike_off_objection", 2)
	RecordBatches("j", "strike_off_objection", 0)

	assert.Equal(t, []sample{
		{RowsTotal, 3, Labels{"job": "j", "table": "root", "kind": "read"}},
		{RowsTotal, 5, Labels{"job": "j", "table": "strike_off_objection", "kind": "inserted"}},
		{BatchesTotal, 2, Labels{"job": "j", "table": "strike_off_objection"}},
	}, r.counters, "non-positive deltas are dropped")
	assert.Empty(t, r.histograms)
}

func TestSetBackendAndFlush(t *testing.T) {
	r := install(t)

	require.NoError(t, Flush())
	assert.Equal(t, 1, r.flushes)

	SetBackend(nil)
	assert.Same(t, r, current().(*recorder), "nil keeps the installed backend")

	SetBackend(Nop())
	require.NoError(t, Flush())
	RecordRows("j", "root", "read", 1)
	assert.Equal(t, 1, r.flushes)
	assert.Empty(t, r.counters)
}
