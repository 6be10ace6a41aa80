package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "factura_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "factura_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	invoiceMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "factura_invoice_mutations_total",
		Help: "Count of invoice mutations by operation and result",
	}, []string{"operation", "result"})
)

// ObserveInvoiceMutation records the outcome of an invoice write.
func ObserveInvoiceMutation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invoiceMutations.WithLabelValues(operation, result).Inc()
}

// MetricsMiddleware labels by route template, not raw URL, to keep
// cardinality bounded.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
