package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClientMetrics exposes counters/histograms for the HomePro client.
type ClientMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	realtimeEvents  *prometheus.CounterVec
	remindersTotal  *prometheus.CounterVec
	reconnects      prometheus.Counter
}

func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homepro",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Total backend requests by operation and outcome",
		}, []string{"op", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "homepro",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Latency of backend requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homepro",
			Subsystem: "client",
			Name:      "realtime_events_total",
			Help:      "Realtime channel events by direction",
		}, []string{"direction", "event"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homepro",
			Subsystem: "client",
			Name:      "reminders_total",
			Help:      "Reminder sends by outcome",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homepro",
			Subsystem: "client",
			Name:      "realtime_reconnects_total",
			Help:      "Successful realtime reconnects",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.realtimeEvents, m.remindersTotal, m.reconnects)
	return m
}

// ObserveRequest records one backend call. outcome is "ok" or an error kind.
func (m *ClientMetrics) ObserveRequest(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(op, outcome).Inc()
	m.requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *ClientMetrics) ObserveRealtimeEvent(direction, event string) {
	if m == nil {
		return
	}
	m.realtimeEvents.WithLabelValues(direction, event).Inc()
}

func (m *ClientMetrics) ObserveReminder(outcome string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(outcome).Inc()
}

func (m *ClientMetrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
