package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus holds the search metrics of any number of searchers, each reporting through its
// own Collector.
type Prometheus struct {
	searches     prometheus.Counter
	iterations   prometheus.Counter
	fullPlayouts prometheus.Counter
	expansions   prometheus.Counter
	treeReuses   prometheus.Counter
	treeSize     prometheus.Gauge
	duration     prometheus.Histogram
	throughput   prometheus.Histogram
}

// NewPrometheus registers the search metrics with reg under the given namespace.
// Registering the same namespace twice on one registry panics, as promauto does.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		searches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total completed searches",
		}),
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Total completed search iterations",
		}),
		fullPlayouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_playouts_total",
			Help:      "Total rollouts that reached a terminal state",
		}),
		expansions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansions_total",
			Help:      "Total nodes added to search trees",
		}),
		treeReuses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tree_reuses_total",
			Help:      "Total searches that started from a reused subtree",
		}),
		treeSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_nodes",
			Help:      "Nodes held by the search tree at the end of the last search",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		throughput: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_iterations_per_second",
			Help:      "Iterations per second of each search",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
		}),
	}
}

// Collector returns a collector for one searcher. It keeps the per-search snapshot of the
// in-memory collector and forwards activity to p.
func (p *Prometheus) Collector() Collector {
	return &promCollector{prom: p}
}

type promCollector struct {
	collector
	prom *Prometheus
}

func (m *promCollector) AddFullPlayout() {
	m.collector.AddFullPlayout()
	m.prom.fullPlayouts.Inc()
}

func (m *promCollector) AddExpansion() {
	m.collector.AddExpansion()
	m.prom.expansions.Inc()
}

func (m *promCollector) AddIteration() {
	m.collector.AddIteration()
	m.prom.iterations.Inc()
}

func (m *promCollector) Complete() SearchMetric {
	metric := m.collector.Complete()

	m.prom.searches.Inc()
	if metric.IsTreeReused {
		m.prom.treeReuses.Inc()
	}
	m.prom.treeSize.Set(float64(metric.TreeSize))
	m.prom.duration.Observe(metric.Duration.Seconds())
	if seconds := metric.Duration.Seconds(); seconds > 0 {
		m.prom.throughput.Observe(float64(metric.Iterations) / seconds)
	}
	return metric
}
