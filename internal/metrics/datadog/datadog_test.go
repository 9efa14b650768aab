package datadog

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strikeoffetl/internal/metrics"
)

func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := NewBackend(Config{})
	assert.ErrorContains(t, err, "Addr is required")
}

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	assert.Nil(t, labelsToTags(nil))
	assert.Equal(t,
		[]string{"job:j", "kind:read", "table:root"},
		labelsToTags(metrics.Labels{"table": "root", "job": "j", "kind": "read"}))
}

func TestBackend_SendsToAgent(t *testing.T) {
	t.Parallel()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	b, err := NewBackend(Config{Addr: conn.LocalAddr().String(), GlobalTags: []string{"env:test"}})
	require.NoError(t, err)

	b.IncCounter(metrics.RowsTotal, 5, metrics.Labels{"table": "root", "kind": "read"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"step": "load", "status": "success"})
	require.NoError(t, b.Flush())

	var got strings.Builder
	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for !strings.Contains(got.String(), "etl_rows_total") || !strings.Contains(got.String(), "etl_step_duration_seconds") {
		n, _, err := conn.ReadFrom(buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.Contains(t, got.String(), "strikeoff.etl_rows_total:5|c")
	assert.Contains(t, got.String(), "kind:read")
	assert.Contains(t, got.String(), "env:test")
}

func TestZeroBackendIsNoop(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 1, nil)
	assert.NoError(t, b.Flush())
}
