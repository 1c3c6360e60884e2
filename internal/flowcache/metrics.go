package flowcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics holds Prometheus metrics for cache operations.
// Every counter is labelled by kind: "graph" or "list".
type cacheMetrics struct {
	hits       *prometheus.CounterVec
	stale      *prometheus.CounterVec
	misses     *prometheus.CounterVec
	loads      *prometheus.CounterVec
	loadErrors *prometheus.CounterVec
	size       prometheus.Gauge
}

func newCacheMetrics(reg prometheus.Registerer) (*cacheMetrics, error) {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "flowcache",
			Name:      name,
			Help:      help,
		}, []string{"kind"})
	}
	m := &cacheMetrics{
		hits:       counter("hits_total", "Total number of fresh cache hits"),
		stale:      counter("stale_hits_total", "Total number of stale hits served while refreshing"),
		misses:     counter("misses_total", "Total number of cache misses"),
		loads:      counter("loads_total", "Total number of repository loads"),
		loadErrors: counter("load_errors_total", "Total number of failed repository loads or compilations"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "flowcache",
			Name:      "graphs",
			Help:      "Current number of compiled flow graphs in cache",
		}),
	}
	for _, c := range []prometheus.Collector{m.hits, m.stale, m.misses, m.loads, m.loadErrors, m.size} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *cacheMetrics) inc(vec func(*cacheMetrics) *prometheus.CounterVec, kind string) {
	if m == nil {
		return
	}
	vec(m).WithLabelValues(kind).Inc()
}

func (m *cacheMetrics) setSize(n int) {
	if m == nil {
		return
	}
	m.size.Set(float64(n))
}

func hits(m *cacheMetrics) *prometheus.CounterVec       { return m.hits }
func staleHits(m *cacheMetrics) *prometheus.CounterVec  { return m.stale }
func misses(m *cacheMetrics) *prometheus.CounterVec     { return m.misses }
func loads(m *cacheMetrics) *prometheus.CounterVec      { return m.loads }
func loadErrors(m *cacheMetrics) *prometheus.CounterVec { return m.loadErrors }
