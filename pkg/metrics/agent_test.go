package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *AgentMetrics
	// Must not panic.
	m.RecordLine(true)
	m.RecordLine(false)
	m.SetQueueDepth(42)
	m.ObservePostLatency(100 * time.Millisecond)
}

func TestDisabledRegistryReturnsNil(t *testing.T) {
	ResetForTesting()
	assert.False(t, IsEnabled())
	assert.Nil(t, NewAgentMetrics())
}

func TestAgentMetricsRecord(t *testing.T) {
	ResetForTesting()
	InitRegistry()
	t.Cleanup(ResetForTesting)

	m := NewAgentMetrics()
	require.NotNil(t, m)

	m.RecordLine(true)
	m.RecordLine(true)
	m.RecordLine(false)
	m.SetQueueDepth(7)
	m.ObservePostLatency(120 * time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.linesProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseErrors))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 1, testutil.CollectAndCount(m.postLatency))
}

func TestInitRegistryIsIdempotent(t *testing.T) {
	ResetForTesting()
	InitRegistry()
	t.Cleanup(ResetForTesting)

	first := GetRegistry()
	InitRegistry()
	assert.Same(t, first, GetRegistry())
}
