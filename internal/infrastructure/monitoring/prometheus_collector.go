package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes relay and detection-pipeline metrics.
type Collector struct {
	// Gauges
	sessionsActive prometheus.Gauge

	// Counters
	sessionsCreatedTotal   prometheus.Counter
	sessionsDestroyedTotal prometheus.Counter
	messagesRoutedTotal    *prometheus.CounterVec
	messagesDroppedTotal   *prometheus.CounterVec

	detectionRequestsTotal prometheus.Counter
	detectionTimeoutsTotal prometheus.Counter
	detectionStaleTotal    prometheus.Counter

	// Histograms
	detectionLatency prometheus.Histogram
}

func NewCollector() *Collector {
	return &Collector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lenslink_sessions_active",
			Help: "Number of live sessions in the registry",
		}),

		sessionsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lenslink_sessions_created_total",
			Help: "Total number of sessions created",
		}),

		sessionsDestroyedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lenslink_sessions_destroyed_total",
			Help: "Total number of sessions destroyed after the grace period",
		}),

		messagesRoutedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lenslink_signal_messages_routed_total",
			Help: "Signaling messages delivered to their target role",
		}, []string{"type"}),

		messagesDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lenslink_signal_messages_dropped_total",
			Help: "Signaling messages dropped for lack of a bound target",
		}, []string{"type"}),

		detectionRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lenslink_detection_requests_total",
			Help: "Frames dispatched to the detection engine",
		}),

		detectionTimeoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lenslink_detection_timeouts_total",
			Help: "Detection requests that expired before a reply arrived",
		}),

		detectionStaleTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lenslink_detection_stale_replies_total",
			Help: "Engine replies discarded because correlation failed",
		}),

		detectionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lenslink_detection_latency_seconds",
			Help:    "Round-trip time from frame dispatch to matched reply",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}
}

func (c *Collector) SessionCreated() {
	c.sessionsCreatedTotal.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionDestroyed() {
	c.sessionsDestroyedTotal.Inc()
	c.sessionsActive.Dec()
}

func (c *Collector) MessageRouted(msgType string) {
	c.messagesRoutedTotal.WithLabelValues(msgType).Inc()
}

func (c *Collector) MessageDropped(msgType string) {
	c.messagesDroppedTotal.WithLabelValues(msgType).Inc()
}

func (c *Collector) DetectionDispatched() {
	c.detectionRequestsTotal.Inc()
}

func (c *Collector) DetectionTimeout() {
	c.detectionTimeoutsTotal.Inc()
}

func (c *Collector) DetectionStaleReply() {
	c.detectionStaleTotal.Inc()
}

func (c *Collector) ObserveDetectionLatency(d time.Duration) {
	c.detectionLatency.Observe(d.Seconds())
}
