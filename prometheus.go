package invgo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports writer events as Prometheus metrics.
type PrometheusCollector struct {
	flushes       prometheus.Counter
	flushedDocs   prometheus.Counter
	flushedBytes  prometheus.Counter
	flushLatency  prometheus.Histogram
	merges        *prometheus.CounterVec
	mergedDocs    prometheus.Counter
	mergeLatency  prometheus.Histogram
	commits       prometheus.Counter
	commitLatency prometheus.Histogram
	generation    prometheus.Gauge
	stalls        prometheus.Counter
	deletedDocs   prometheus.Counter
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the metrics under namespace and registers
// them on reg.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	p := &PrometheusCollector{
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flushes_total",
			Help: "Number of flushed segments.",
		}),
		flushedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flushed_docs_total",
			Help: "Number of documents written by flushes.",
		}),
		flushedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flushed_bytes_total",
			Help: "Bytes written by flushes.",
		}),
		flushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "flush_duration_seconds",
			Help:    "Flush latency.",
			Buckets: prometheus.DefBuckets,
		}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "merges_total",
			Help: "Number of finished merges by result.",
		}, []string{"result"}),
		mergedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "merged_docs_total",
			Help: "Number of documents written by merges.",
		}),
		mergeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "merge_duration_seconds",
			Help:    "Merge latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commits_total",
			Help: "Number of durable commits.",
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "commit_duration_seconds",
			Help:    "Commit latency.",
			Buckets: prometheus.DefBuckets,
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "commit_generation",
			Help: "Generation of the last commit.",
		}),
		stalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "indexing_stalls_total",
			Help: "Number of times indexing stalled on pending flushes.",
		}),
		deletedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deleted_docs_total",
			Help: "Number of documents deleted by applied deletes.",
		}),
	}
	for _, c := range []prometheus.Collector{
		p.flushes, p.flushedDocs, p.flushedBytes, p.flushLatency,
		p.merges, p.mergedDocs, p.mergeLatency,
		p.commits, p.commitLatency, p.generation,
		p.stalls, p.deletedDocs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusCollector) OnFlush(docs int, bytes int64, took time.Duration) {
	p.flushes.Inc()
	p.flushedDocs.Add(float64(docs))
	p.flushedBytes.Add(float64(bytes))
	p.flushLatency.Observe(took.Seconds())
}

func (p *PrometheusCollector) OnMerge(_, docs int, took time.Duration, err error) {
	if err != nil {
		p.merges.WithLabelValues("error").Inc()
		return
	}
	p.merges.WithLabelValues("ok").Inc()
	p.mergedDocs.Add(float64(docs))
	p.mergeLatency.Observe(took.Seconds())
}

func (p *PrometheusCollector) OnCommit(generation int64, took time.Duration) {
	p.commits.Inc()
	p.commitLatency.Observe(took.Seconds())
	p.generation.Set(float64(generation))
}

func (p *PrometheusCollector) OnStall() { p.stalls.Inc() }

func (p *PrometheusCollector) OnDeletesApplied(deleted int) { p.deletedDocs.Add(float64(deleted)) }
