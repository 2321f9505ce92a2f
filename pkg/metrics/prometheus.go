package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	eventsTotal      *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	reconnectsTotal  prometheus.Counter
	connectionStatus *prometheus.GaugeVec
	feedSize         *prometheus.GaugeVec
	scoutCount       prometheus.Gauge
	biasLevel        *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		eventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pandora_stream_events_total",
				Help: "Total number of stream events dispatched by type",
			},
			[]string{"type"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pandora_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		reconnectsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pandora_stream_reconnects_total",
				Help: "Total number of stream reconnect attempts",
			},
		),
		connectionStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pandora_stream_status",
				Help: "1 for the current connection status, 0 otherwise",
			},
			[]string{"status"},
		),
		feedSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pandora_feed_size",
				Help: "Number of signals per asset class list",
			},
			[]string{"asset_class", "list"},
		),
		scoutCount: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pandora_scout_alerts",
				Help: "Number of visible scout alerts",
			},
		),
		biasLevel: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pandora_bias_level",
				Help: "Effective bias ordinal (1..6) per timeframe",
			},
			[]string{"timeframe"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pandora_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordEvent(eventType string) {
	r.eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordReconnect() {
	r.reconnectsTotal.Inc()
}

// RecordConnectionStatus sets the gauge for status to 1 and the others to 0.
func (r *Recorder) RecordConnectionStatus(status string) {
	for _, s := range []string{"CONNECTING", "OPEN", "CLOSED"} {
		v := 0.0
		if s == status {
			v = 1
		}
		r.connectionStatus.WithLabelValues(s).Set(v)
	}
}

func (r *Recorder) RecordFeedSize(assetClass string, visible, overflow int) {
	r.feedSize.WithLabelValues(assetClass, "visible").Set(float64(visible))
	r.feedSize.WithLabelValues(assetClass, "overflow").Set(float64(overflow))
}

func (r *Recorder) RecordScoutCount(n int) {
	r.scoutCount.Set(float64(n))
}

func (r *Recorder) RecordBiasLevel(timeframe string, ordinal int) {
	r.biasLevel.WithLabelValues(timeframe).Set(float64(ordinal))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordEvent(string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordReconnect() {}
func (Nop) RecordConnectionStatus(string) {}
func (Nop) RecordFeedSize(string, int, int) {}
func (Nop) RecordScoutCount(int) {}
func (Nop) RecordBiasLevel(string, int) {}
func (Nop) RecordLatency(string, float64) {}
