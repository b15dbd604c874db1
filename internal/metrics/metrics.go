package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
)

const namespace = "collabnet"

// Collector holds the Prometheus instruments of the collector. Each Collector
// owns its registry so several can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	repositories *prometheus.CounterVec
	retries      prometheus.Counter
	fetchSeconds prometheus.Histogram
	runs         prometheus.Counter
	lastRun      *prometheus.GaugeVec
}

// New creates a collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		repositories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repositories_total",
			Help:      "Repositories processed, by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Commit history requests repeated after a failure.",
		}),
		fetchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent retrieving one repository's commit history, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed collection runs.",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run",
			Help:      "Counters of the most recent run.",
		}, []string{"counter"}),
	}

	c.registry.MustRegister(
		c.repositories,
		c.retries,
		c.fetchSeconds,
		c.runs,
		c.lastRun,
		collectors.NewGoCollector(),
	)
	return c
}

// ObserveOutcome records one finished repository
func (c *Collector) ObserveOutcome(o collab.Outcome) {
	result := "success"
	switch {
	case apperrors.IsErrorType(o.Err, apperrors.ErrorTypeContext):
		result = "cancelled"
	case o.Failed():
		result = "failure"
	}
	c.repositories.WithLabelValues(result).Inc()
	if o.Attempts > 1 {
		c.retries.Add(float64(o.Attempts - 1))
	}
	if o.Duration > 0 {
		c.fetchSeconds.Observe(o.Duration.Seconds())
	}
}

// ObserveRun records the counters of a finished run
func (c *Collector) ObserveRun(s collab.Summary) {
	c.runs.Inc()
	c.lastRun.WithLabelValues("requested").Set(float64(s.Requested))
	c.lastRun.WithLabelValues("processed").Set(float64(s.Processed))
	c.lastRun.WithLabelValues("with_commits").Set(float64(s.WithCommits))
	c.lastRun.WithLabelValues("solo_contributor").Set(float64(s.SoloContributor))
	c.lastRun.WithLabelValues("failed").Set(float64(len(s.Failures)))
	c.lastRun.WithLabelValues("edges").Set(float64(s.Edges))
	c.lastRun.WithLabelValues("authors").Set(float64(s.Authors))
	c.lastRun.WithLabelValues("contributions").Set(float64(s.Contributions))
	complete := 0.0
	if s.Complete {
		complete = 1
	}
	c.lastRun.WithLabelValues("complete").Set(complete)
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the /metrics scrape endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
