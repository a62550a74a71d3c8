// Package metrics exposes prometheus collectors for the import pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upload outcomes.
const (
	UploadAccepted = "accepted"
	UploadInvalid  = "invalid"
	UploadTooLarge = "too_large"
)

// Collector holds the pipeline counters. All methods are safe on a nil
// receiver so callers can run without metrics.
type Collector struct {
	sessionsCreated   prometheus.Counter
	uploads           *prometheus.CounterVec
	rowsParsed        *prometheus.CounterVec
	importsConfirmed  prometheus.Counter
	expensesImported  prometheus.Counter
	rowsSkipped       prometheus.Counter
	staleCancelled    prometheus.Counter
	operationDuration *prometheus.HistogramVec
}

func New() *Collector {
	c := &Collector{}

	c.sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "expense_import",
		Name:      "sessions_created_total",
		Help:      "Import sessions created",
	})
	c.uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expense_import",
		Name:      "uploads_total",
		Help:      "CSV uploads by outcome",
	}, []string{"result"})
	c.rowsParsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expense_import",
		Name:      "rows_parsed_total",
		Help:      "Rows parsed on mapping save, by validation result",
	}, []string{"result"})
	c.importsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "expense_import",
		Name:      "imports_confirmed_total",
		Help:      "Imports committed",
	})
	c.expensesImported = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "expense_import",
		Name:      "expenses_imported_total",
		Help:      "Expenses created by confirmed imports",
	})
	c.rowsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "expense_import",
		Name:      "rows_not_imported_total",
		Help:      "Skipped or invalid rows left out of confirmed imports",
	})
	c.staleCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "expense_import",
		Name:      "stale_sessions_cancelled_total",
		Help:      "Sessions cancelled by the stale session sweeper",
	})
	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "expense_import",
		Name:      "operation_duration_seconds",
		Help:      "Duration of import service operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	return c
}

func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.sessionsCreated,
		c.uploads,
		c.rowsParsed,
		c.importsConfirmed,
		c.expensesImported,
		c.rowsSkipped,
		c.staleCancelled,
		c.operationDuration,
	)
}

func (c *Collector) SessionCreated() {
	if c == nil {
		return
	}
	c.sessionsCreated.Inc()
}

func (c *Collector) Upload(result string) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(result).Inc()
}

func (c *Collector) RowsParsed(valid, invalid int) {
	if c == nil {
		return
	}
	c.rowsParsed.WithLabelValues("valid").Add(float64(valid))
	c.rowsParsed.WithLabelValues("invalid").Add(float64(invalid))
}

func (c *Collector) ImportConfirmed(imported, skipped int) {
	if c == nil {
		return
	}
	c.importsConfirmed.Inc()
	c.expensesImported.Add(float64(imported))
	c.rowsSkipped.Add(float64(skipped))
}

func (c *Collector) StaleSessionsCancelled(n int) {
	if c == nil {
		return
	}
	c.staleCancelled.Add(float64(n))
}

// ObserveDuration records the time since start under operation.
func (c *Collector) ObserveDuration(operation string, start time.Time) {
	if c == nil {
		return
	}
	c.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
