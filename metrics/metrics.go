// Package metrics holds the prometheus collectors of the cache and the
// orchestrator. A nil *Collectors is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pythagoras"

type Collectors struct {
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheWrites   *prometheus.CounterVec
	Executions    *prometheus.CounterVec
	PurityChecks  *prometheus.CounterVec
	ExecutionTime *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg when reg is not nil.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Memoized calls answered from storage.",
		}, []string{"function"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Memoized calls that had to execute.",
		}, []string{"function"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "writes_total",
			Help: "Cache entries persisted.",
		}, []string{"function"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cloud", Name: "executions_total",
			Help: "Published function executions by mode.",
		}, []string{"function", "mode"}),
		PurityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cloud", Name: "purity_checks_total",
			Help: "Recompute-and-compare checks of cached outputs by result.",
		}, []string{"function", "result"}),
		ExecutionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "cloud", Name: "execution_seconds",
			Help:    "Wall-clock time of published function executions.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"function"}),
	}
	if reg != nil {
		for _, col := range []prometheus.Collector{
			c.CacheHits, c.CacheMisses, c.CacheWrites, c.Executions, c.PurityChecks, c.ExecutionTime,
		} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Collectors) Hit(fn string) {
	if c != nil {
		c.CacheHits.WithLabelValues(fn).Inc()
	}
}

func (c *Collectors) Miss(fn string) {
	if c != nil {
		c.CacheMisses.WithLabelValues(fn).Inc()
	}
}

func (c *Collectors) Write(fn string) {
	if c != nil {
		c.CacheWrites.WithLabelValues(fn).Inc()
	}
}

func (c *Collectors) Executed(fn, mode string, seconds float64) {
	if c != nil {
		c.Executions.WithLabelValues(fn, mode).Inc()
		c.ExecutionTime.WithLabelValues(fn).Observe(seconds)
	}
}

func (c *Collectors) PurityChecked(fn string, ok bool) {
	if c == nil {
		return
	}
	result := "match"
	if !ok {
		result = "mismatch"
	}
	c.PurityChecks.WithLabelValues(fn, result).Inc()
}
