// Package metrics provides Prometheus metrics for podsync connectors.
//
// # Overview
//
// Counters track rows read and items written per connector, histograms
// track API call latency per rate level, and two gauges republish the
// remote API's quota headers so operators can see how close a sync runs
// to its hourly allowance.
//
// # Basic Usage
//
//	collector := metrics.NewCollector("podio-items")
//	collector.RowRead()
//	collector.ItemWritten("create", true)
//
//	metrics.RateLimit.WithLabelValues("crm", "2").Set(5000)
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records per-connector counters. Each connector owns one.
type Collector struct {
	name      string
	rowsRead  prometheus.Counter
	written   *prometheus.CounterVec
	startTime time.Time

	read   atomic.Int64
	ok     atomic.Int64
	failed atomic.Int64
}

// NewCollector creates a new metrics collector for a connector.
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		rowsRead:  RowsRead.WithLabelValues(name),
		written:   ItemsWritten,
		startTime: time.Now(),
	}
}

// RowRead counts one flattened row delivered to a sink.
func (c *Collector) RowRead() {
	c.rowsRead.Inc()
	c.read.Add(1)
}

// ItemWritten counts one create/update/delete attempt.
func (c *Collector) ItemWritten(operation string, success bool) {
	outcome := "success"
	if success {
		c.ok.Add(1)
	} else {
		outcome = "failure"
		c.failed.Add(1)
	}
	c.written.WithLabelValues(c.name, operation, outcome).Inc()
}

// GetAll returns the collector's local totals.
func (c *Collector) GetAll() map[string]interface{} {
	return map[string]interface{}{
		"component":     c.name,
		"start_time":    c.startTime,
		"uptime":        time.Since(c.startTime).Seconds(),
		"rows_read":     c.read.Load(),
		"items_written": c.ok.Load(),
		"items_failed":  c.failed.Load(),
	}
}

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// ObserveAPICall records the outcome and latency of one API request.
func ObserveAPICall(level int, statusCode int, elapsed time.Duration) {
	lvl := strconv.Itoa(level)
	APIRequests.WithLabelValues(lvl, strconv.Itoa(statusCode)).Inc()
	APILatency.WithLabelValues(lvl).Observe(elapsed.Seconds())
}

var (
	// RowsRead counts rows produced by readers.
	// Labels: connector
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podsync_rows_read_total",
			Help: "Total number of flattened rows read",
		},
		[]string{"connector"},
	)

	// ItemsWritten counts write attempts.
	// Labels: connector, operation (create/update/delete), outcome (success/failure)
	ItemsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podsync_items_written_total",
			Help: "Total number of item write attempts",
		},
		[]string{"connector", "operation", "outcome"},
	)

	// APIRequests counts HTTP calls to the remote API.
	// Labels: level (1 = metadata, 2 = items), code (HTTP status, 0 on network error)
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podsync_api_requests_total",
			Help: "Total number of remote API requests",
		},
		[]string{"level", "code"},
	)

	// APILatency tracks request latency in seconds.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podsync_api_request_duration_seconds",
			Help:    "Remote API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"level"},
	)

	// RateLimit republishes the X-Rate-Limit-Limit header.
	// Labels: connection, level
	RateLimit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podsync_api_rate_limit",
			Help: "Request quota reported by the remote API",
		},
		[]string{"connection", "level"},
	)

	// RateRemaining republishes the X-Rate-Limit-Remaining header.
	RateRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podsync_api_rate_remaining",
			Help: "Requests remaining in the current quota window",
		},
		[]string{"connection", "level"},
	)
)
