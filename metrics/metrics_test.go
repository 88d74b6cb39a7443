package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladlpavlov/Pythagoras-sub001/metrics"
)

func TestCollectors_CountAndRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New(reg)
	require.NoError(t, err)

	c.Hit("f")
	c.Hit("f")
	c.Miss("f")
	c.Executed("f", "sync", 0.01)
	c.PurityChecked("f", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.CacheHits.WithLabelValues("f")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheMisses.WithLabelValues("f")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Executions.WithLabelValues("f", "sync")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PurityChecks.WithLabelValues("f", "mismatch")))

	_, err = metrics.New(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestCollectors_NilIsNoop(t *testing.T) {
	var c *metrics.Collectors
	assert.NotPanics(t, func() {
		c.Hit("f")
		c.Miss("f")
		c.Write("f")
		c.Executed("f", "sync", 1)
		c.PurityChecked("f", true)
	})
}
