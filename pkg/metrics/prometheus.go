package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	alertsTotal        *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	cacheTotal         *prometheus.CounterVec
	ticksTotal         prometheus.Counter
	droppedUpdates     prometheus.Counter
	errorsTotal        *prometheus.CounterVec
	influence          *prometheus.GaugeVec
	latency            *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder registered with reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		alertsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transitwatch_alerts_total",
				Help: "Total number of alerts generated",
			},
			[]string{"type", "priority"},
		),
		notificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transitwatch_notifications_total",
				Help: "Notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		),
		cacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transitwatch_ephemeris_cache_total",
				Help: "Ephemeris cache lookups by result",
			},
			[]string{"result"},
		),
		ticksTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "transitwatch_monitor_ticks_total",
				Help: "Position monitor refresh ticks",
			},
		),
		droppedUpdates: f.NewCounter(
			prometheus.CounterOpts{
				Name: "transitwatch_monitor_dropped_updates_total",
				Help: "Position updates dropped because a subscriber was full",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transitwatch_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		influence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "transitwatch_overall_influence",
				Help: "Last computed overall transit influence per chart",
			},
			[]string{"chart"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transitwatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordAlert counts a generated alert.
func (r *Recorder) RecordAlert(eventType, priority string) {
	r.alertsTotal.WithLabelValues(eventType, priority).Inc()
}

// RecordNotification counts a delivery attempt on a channel.
func (r *Recorder) RecordNotification(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.notificationsTotal.WithLabelValues(channel, result).Inc()
}

// RecordCacheResult counts an ephemeris cache hit or miss.
func (r *Recorder) RecordCacheResult(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheTotal.WithLabelValues(result).Inc()
}

// RecordTick counts a monitor tick.
func (r *Recorder) RecordTick() { r.ticksTotal.Inc() }

// RecordDroppedUpdate counts an update dropped on a full subscriber.
func (r *Recorder) RecordDroppedUpdate() { r.droppedUpdates.Inc() }

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordInfluence records the last overall influence for a chart.
func (r *Recorder) RecordInfluence(chartID string, value float64) {
	r.influence.WithLabelValues(chartID).Set(value)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
