// Package observability holds the process-wide prometheus metrics and the
// OpenTelemetry tracer setup.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nimo_bom"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"method", "route"})

	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validations_total",
		Help:      "Tree validations by result (ok, rejected)",
	}, []string{"result"})

	problems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_problems_total",
		Help:      "Validation problems by problem code",
	}, []string{"code"})

	treeSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tree_nodes",
		Help:      "Number of nodes in accepted trees",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8), // 1 to ~16k
	})

	sequenceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sequence_retries_total",
		Help:      "BOM number retries by reason (allocate, duplicate)",
	}, []string{"reason"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Document cache lookups by result (hit, miss, stale, error)",
	}, []string{"result"})
)

// GinMetrics records request counts and latency per matched route.
func GinMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordValidation counts one validation and its problem codes.
func RecordValidation(nodes int, codes ...string) {
	if len(codes) == 0 {
		validations.WithLabelValues("ok").Inc()
		treeSize.Observe(float64(nodes))
		return
	}
	validations.WithLabelValues("rejected").Inc()
	for _, c := range codes {
		problems.WithLabelValues(c).Inc()
	}
}

func RecordSequenceRetry(reason string) {
	sequenceRetries.WithLabelValues(reason).Inc()
}

func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}
