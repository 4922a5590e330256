// Package metrics owns the Prometheus collectors exposed on /metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Hakan2211/course-platform/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "course"

const (
	ExchangeAccepted = "accepted"
	ExchangeRejected = "rejected"
	ExchangeLimited  = "rate_limited"
)

// Recorder holds a private registry so tests and multiple routers never collide.
type Recorder struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	progressUpserts  *prometheus.CounterVec
	magicLinkResults *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		progressUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_upserts_total",
			Help:      "Stored lesson progress writes by resulting status.",
		}, []string{"status"}),
		magicLinkResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "magic_link_exchanges_total",
			Help:      "Magic link exchanges by result.",
		}, []string{"result"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		recorder.requests,
		recorder.requestDuration,
		recorder.progressUpserts,
		recorder.magicLinkResults,
	)
	return recorder
}

// Middleware records one observation per request, labelled by the matched route.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		r.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		r.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ProgressChanged(_ context.Context, record progress.LessonProgress) {
	r.progressUpserts.WithLabelValues(string(record.Status)).Inc()
}

// MagicLinkExchanged counts one exchange outcome.
func (r *Recorder) MagicLinkExchanged(result string) {
	r.magicLinkResults.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry for assertions.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
