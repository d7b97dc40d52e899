package main

import (
	"net/http"

	"git.fiblab.net/sim/lanepath/pathfind"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver exports engine events as prometheus metrics.
type PrometheusObserver struct {
	registry *prometheus.Registry

	submitted  *prometheus.CounterVec
	rejected   prometheus.Counter
	searches   *prometheus.HistogramVec
	popped     prometheus.Counter
	dropped    prometheus.Counter
	positions  prometheus.Histogram
	queueDepth prometheus.Gauge
}

func NewPrometheusObserver() *PrometheusObserver {
	o := &PrometheusObserver{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanepath_requests_submitted_total",
			Help: "Path requests accepted by the queue",
		}, []string{"queue"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanepath_requests_rejected_total",
			Help: "Path requests that could not be reserved or allocated",
		}),
		searches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lanepath_search_duration_seconds",
			Help:    "Search latency by outcome",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"status"}),
		popped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanepath_frontier_popped_total",
			Help: "Frontier entries expanded",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanepath_frontier_dropped_total",
			Help: "Frontier entries dropped because every bucket above them was full",
		}),
		positions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lanepath_path_positions",
			Help:    "Positions per computed path",
			Buckets: prometheus.LinearBuckets(12, 12, 10),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanepath_queue_depth",
			Help: "Pending path requests at the last submission",
		}),
	}
	o.registry.MustRegister(
		o.submitted, o.rejected, o.searches,
		o.popped, o.dropped, o.positions, o.queueDepth,
	)
	return o
}

func (o *PrometheusObserver) OnSubmit(skipQueue bool, pending int) {
	queue := "normal"
	if skipQueue {
		queue = "skip"
	}
	o.submitted.WithLabelValues(queue).Inc()
	o.queueDepth.Set(float64(pending))
}

func (o *PrometheusObserver) OnReject() {
	o.rejected.Inc()
}

func (o *PrometheusObserver) OnComplete(r pathfind.Result) {
	status := "ready"
	if r.Err != nil {
		status = "failed"
	}
	o.searches.WithLabelValues(status).Observe(r.Elapsed.Seconds())
	o.popped.Add(float64(r.Popped))
	o.dropped.Add(float64(r.Dropped))
	if r.Err == nil {
		o.positions.Observe(float64(r.Positions))
	}
}

func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}
