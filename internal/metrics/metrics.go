// Package metrics exposes Prometheus collectors for HTTP traffic and learner activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codeforge"

// Collector owns a private registry so tests and multiple servers never collide on the default one.
type Collector struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	xpAwarded       *prometheus.CounterVec
	enrollments     prometheus.Counter
	aiRequests      *prometheus.CounterVec
	rerankPasses    prometheus.Counter
}

// NewCollector registers every collector, including the Go runtime and process collectors.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	collector := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "endpoint"},
		),
		xpAwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "xp_awarded_total",
				Help:      "Experience points awarded, by reason",
			},
			[]string{"reason"},
		),
		enrollments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_total",
			Help:      "First-time course enrollments",
		}),
		aiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_requests_total",
				Help:      "AI assistant requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		rerankPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_passes_total",
			Help:      "Completed leaderboard rank recomputations",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collector.requests,
		collector.requestDuration,
		collector.xpAwarded,
		collector.enrollments,
		collector.aiRequests,
		collector.rerankPasses,
	)
	return collector
}

// Middleware records request counts and latencies labelled by route template.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		c.requests.WithLabelValues(ctx.Request.Method, endpoint, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.requestDuration.WithLabelValues(ctx.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveXP counts awarded experience points.
func (c *Collector) ObserveXP(reason string, amount int64) {
	if c == nil || amount <= 0 {
		return
	}
	c.xpAwarded.WithLabelValues(reason).Add(float64(amount))
}

// ObserveEnrollment counts a first-time enrollment.
func (c *Collector) ObserveEnrollment() {
	if c == nil {
		return
	}
	c.enrollments.Inc()
}

// ObserveAIRequest counts an assistant call; outcome is "ok" or a failure kind.
func (c *Collector) ObserveAIRequest(operation, outcome string) {
	if c == nil {
		return
	}
	c.aiRequests.WithLabelValues(operation, outcome).Inc()
}

// ObserveRerank counts a completed rank recomputation.
func (c *Collector) ObserveRerank() {
	if c == nil {
		return
	}
	c.rerankPasses.Inc()
}
