package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, HTTPRequestDuration)
	assert.NotNil(t, HTTPRequestsTotal)
	assert.NotNil(t, IngestReceivedTotal)
	assert.NotNil(t, IngestInsertedTotal)
	assert.NotNil(t, IngestRejectedTotal)
	assert.NotNil(t, AlertsCreatedTotal)
	assert.NotNil(t, PollDuration)
	assert.NotNil(t, ProviderCallsTotal)
	assert.NotNil(t, AggregateRefreshDuration)
	assert.NotNil(t, CacheHitsTotal)
	assert.NotNil(t, JobRunsTotal)
}

func TestLabelledCounters(t *testing.T) {
	t.Parallel()

	c := IngestRejectedTotal.WithLabelValues("test-kind")
	before := testutil.ToFloat64(c)
	c.Add(3)
	assert.InDelta(t, before+3, testutil.ToFloat64(c), 1e-9)
}

func TestMetricNamesUseNamespace(t *testing.T) {
	t.Parallel()

	ch := make(chan *prometheus.Desc, 1)
	PollDeviceErrorsTotal.Describe(ch)
	desc := <-ch
	assert.Contains(t, desc.String(), `"fleet_poll_device_errors_total"`)

	var m dto.Metric
	require.NoError(t, ReadyzUp.Write(&m))
	require.NotNil(t, m.GetGauge())
}
