// Package observability provides Prometheus metrics for the engine, its
// event sinks, the HTTP API and the maintenance pipeline.
package observability

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	EventsTotal *prometheus.CounterVec
	LastEventID prometheus.Gauge
	SinkErrors  *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	RateLimited   prometheus.Counter
	WSConnections prometheus.Gauge

	// Pipeline metrics
	SnapshotSaves       *prometheus.CounterVec
	SnapshotDuration    prometheus.Histogram
	LastSnapshotEventID prometheus.Gauge
	ArchiveRuns         *prometheus.CounterVec
	EventsArchived      prometheus.Counter
}

// NewMetrics creates a Metrics instance on its own registry, which also
// carries the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "creatormarket"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total number of engine events by component and kind",
		}, []string{"component", "kind"}),
		LastEventID: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "last_event_id",
			Help:      "ID of the newest dispatched engine event",
		}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Total number of failed event deliveries by sink",
		}, []string{"sink"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Number of connected websocket clients",
		}),

		SnapshotSaves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "snapshot_saves_total",
			Help:      "Total number of snapshot saves by status",
		}, []string{"status"}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "snapshot_duration_seconds",
			Help:      "Snapshot save duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		}),
		LastSnapshotEventID: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_snapshot_event_id",
			Help:      "Last event ID covered by the newest saved snapshot",
		}),
		ArchiveRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "archive_runs_total",
			Help:      "Total number of event archive runs by status",
		}, []string{"status"}),
		EventsArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_archived_total",
			Help:      "Total number of events moved to cold storage",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Name implements domain.EventSink.
func (m *Metrics) Name() string { return "metrics" }

// Handle implements domain.EventSink by counting the event.
func (m *Metrics) Handle(_ context.Context, ev domain.Event) error {
	component, _, _ := strings.Cut(string(ev.Kind), ".")
	m.EventsTotal.WithLabelValues(component, string(ev.Kind)).Inc()
	m.LastEventID.Set(float64(ev.ID))
	return nil
}

var _ domain.EventSink = (*Metrics)(nil)

// Sink wraps an event sink so its failures are counted.
func (m *Metrics) Sink(next domain.EventSink) domain.EventSink {
	return &countingSink{next: next, errs: m.SinkErrors.WithLabelValues(next.Name())}
}

type countingSink struct {
	next domain.EventSink
	errs prometheus.Counter
}

func (s *countingSink) Name() string { return s.next.Name() }

func (s *countingSink) Handle(ctx context.Context, ev domain.Event) error {
	err := s.next.Handle(ctx, ev)
	if err != nil {
		s.errs.Inc()
	}
	return err
}

// Saver persists one snapshot.
type Saver interface {
	Save(ctx context.Context) (domain.SnapshotRecord, error)
}

// SnapshotSaver times and counts snapshot saves.
type SnapshotSaver struct {
	next    Saver
	metrics *Metrics
}

// InstrumentSaver wraps a snapshot saver.
func (m *Metrics) InstrumentSaver(next Saver) *SnapshotSaver {
	return &SnapshotSaver{next: next, metrics: m}
}

// Save calls the wrapped saver.
func (s *SnapshotSaver) Save(ctx context.Context) (domain.SnapshotRecord, error) {
	timer := prometheus.NewTimer(s.metrics.SnapshotDuration)
	rec, err := s.next.Save(ctx)
	timer.ObserveDuration()
	if err != nil {
		s.metrics.SnapshotSaves.WithLabelValues("error").Inc()
		return rec, err
	}
	s.metrics.SnapshotSaves.WithLabelValues("ok").Inc()
	s.metrics.LastSnapshotEventID.Set(float64(rec.LastEventID))
	return rec, nil
}

// Archiver counts archive runs and archived events.
type Archiver struct {
	next    domain.Archiver
	metrics *Metrics
}

var _ domain.Archiver = (*Archiver)(nil)

// InstrumentArchiver wraps an archiver.
func (m *Metrics) InstrumentArchiver(next domain.Archiver) *Archiver {
	return &Archiver{next: next, metrics: m}
}

// ArchiveEvents calls the wrapped archiver.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	n, err := a.next.ArchiveEvents(ctx, before)
	a.metrics.EventsArchived.Add(float64(n))
	if err != nil {
		a.metrics.ArchiveRuns.WithLabelValues("error").Inc()
		return n, err
	}
	a.metrics.ArchiveRuns.WithLabelValues("ok").Inc()
	return n, nil
}
