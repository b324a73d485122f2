package database

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ prometheus.Collector = (*PoolStatsCollector)(nil)

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "review-service")
	require.NotNil(t, c)

	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		names = append(names, d.String())
	}
	require.Len(t, names, 8)

	for i, want := range []string{
		"db_pool_acquired_connections",
		"db_pool_idle_connections",
		"db_pool_total_connections",
		"db_pool_max_connections",
		"db_pool_acquire_count_total",
		"db_pool_acquire_duration_seconds_total",
		"db_pool_canceled_acquire_count_total",
		"db_pool_empty_acquire_count_total",
	} {
		assert.Contains(t, names[i], want)
	}
}

func TestRegisterPoolMetrics_DuplicateFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(reg, nil, "review-service"))
	assert.Error(t, RegisterPoolMetrics(reg, nil, "review-service"))
}
