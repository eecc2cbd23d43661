// Package metrics exposes transfer and server activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheerbytes/paceline/internal/transfer"
)

const namespace = "paceline"

// Label names.
const (
	LabelDirection = "direction"
	LabelOutcome   = "outcome"
	LabelOp        = "op"
	LabelTransport = "transport"
)

// OutcomeSuccess labels transfers that completed; failures are labelled with
// their transfer.Kind.
const OutcomeSuccess = "success"

// Gauges are read on every scrape.
type Gauges struct {
	ActiveTransfers func() int64
	QueueLen        func() int
	BusyWorkers     func() int
	LiveSessions    func() int
}

// Metrics implements transfer.Observer and records session activity.
type Metrics struct {
	registry *prometheus.Registry

	bytesTotal       *prometheus.CounterVec
	chunkRetries     *prometheus.CounterVec
	transfersTotal   *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	sessionsTotal    *prometheus.CounterVec
	rejectedTotal    prometheus.Counter
}

var _ transfer.Observer = (*Metrics)(nil)

// New creates a registry with the paceline collectors plus the Go runtime
// and process collectors. Nil gauge functions are skipped.
func New(g Gauges) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "bytes_total",
				Help:      "Payload bytes moved, by direction",
			},
			[]string{LabelDirection},
		),
		chunkRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "chunk_retries_total",
				Help:      "Chunk operations that failed and were retried",
			},
			[]string{LabelDirection},
		),
		transfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "completed_total",
				Help:      "Finished transfers, by direction and outcome",
			},
			[]string{LabelDirection, LabelOutcome},
		),
		transferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "duration_seconds",
				Help:      "Wall time of finished transfers",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{LabelDirection},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "sessions_total",
				Help:      "Sessions handled, by operation and transport",
			},
			[]string{LabelOp, LabelTransport},
		),
		rejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "sessions_rejected_total",
				Help:      "Connections closed because the worker pool was shut down",
			},
		),
	}

	reg.MustRegister(
		m.bytesTotal,
		m.chunkRetries,
		m.transfersTotal,
		m.transferDuration,
		m.sessionsTotal,
		m.rejectedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if g.ActiveTransfers != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "active",
			Help:      "Transfers currently in flight",
		}, func() float64 { return float64(g.ActiveTransfers()) }))
	}
	if g.QueueLen != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queued_tasks",
			Help:      "Sessions waiting for a worker",
		}, func() float64 { return float64(g.QueueLen()) }))
	}
	if g.BusyWorkers != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "busy_workers",
			Help:      "Workers currently running a session",
		}, func() float64 { return float64(g.BusyWorkers()) }))
	}
	if g.LiveSessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "live_sessions",
			Help:      "Sessions accepted and not yet closed",
		}, func() float64 { return float64(g.LiveSessions()) }))
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BytesMoved implements transfer.Observer.
func (m *Metrics) BytesMoved(dir transfer.Direction, n int) {
	m.bytesTotal.WithLabelValues(string(dir)).Add(float64(n))
}

// ChunkRetried implements transfer.Observer.
func (m *Metrics) ChunkRetried(dir transfer.Direction) {
	m.chunkRetries.WithLabelValues(string(dir)).Inc()
}

// TransferFinished implements transfer.Observer.
func (m *Metrics) TransferFinished(dir transfer.Direction, err error, elapsed time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = string(transfer.KindOf(err))
		if outcome == "" {
			outcome = "unknown"
		}
	}
	m.transfersTotal.WithLabelValues(string(dir), outcome).Inc()
	m.transferDuration.WithLabelValues(string(dir)).Observe(elapsed.Seconds())
}

// SessionStarted counts a session once its header is known.
func (m *Metrics) SessionStarted(op, transport string) {
	m.sessionsTotal.WithLabelValues(op, transport).Inc()
}

// SessionRejected counts a connection the pool refused.
func (m *Metrics) SessionRejected() {
	m.rejectedTotal.Inc()
}
