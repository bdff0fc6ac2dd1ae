package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// No-op subscription reasons.
const (
	reasonNotConfigured = "not_configured"
	reasonInvalid       = "invalid_subscription"
	reasonChannelError  = "channel_error"
)

// Metrics holds Prometheus metrics for the subscription manager.
type Metrics struct {
	ActiveChannels    prometheus.Gauge
	Listeners         prometheus.Gauge
	ChannelsOpened    *prometheus.CounterVec
	ChannelsClosed    *prometheus.CounterVec
	EventsDelivered   *prometheus.CounterVec
	NoopSubscriptions *prometheus.CounterVec
	ListenerPanics    prometheus.Counter
}

// NewMetrics returns the process-wide realtime metrics, registering them
// with the default registry on first use.
//
// Metrics:
//   - reqstream_realtime_active_channels
//   - reqstream_realtime_listeners
//   - reqstream_realtime_channels_opened_total{kind}
//   - reqstream_realtime_channels_closed_total{kind}
//   - reqstream_realtime_events_delivered_total{kind,event}
//   - reqstream_realtime_noop_subscriptions_total{reason}
//   - reqstream_realtime_listener_panics_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return globalMetrics
}

// NewMetricsWithRegistry registers a fresh set of metrics with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		ActiveChannels: f.NewGauge(prometheus.GaugeOpts{
			Name: "reqstream_realtime_active_channels",
			Help: "Number of open change-event channels",
		}),
		Listeners: f.NewGauge(prometheus.GaugeOpts{
			Name: "reqstream_realtime_listeners",
			Help: "Number of attached subscription listeners",
		}),
		ChannelsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reqstream_realtime_channels_opened_total",
			Help: "Total number of channels opened",
		}, []string{"kind"}),
		ChannelsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reqstream_realtime_channels_closed_total",
			Help: "Total number of channels closed",
		}, []string{"kind"}),
		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reqstream_realtime_events_delivered_total",
			Help: "Total number of change events handed to listeners",
		}, []string{"kind", "event"}),
		NoopSubscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reqstream_realtime_noop_subscriptions_total",
			Help: "Subscriptions that degraded to a no-op disposer",
		}, []string{"reason"}),
		ListenerPanics: f.NewCounter(prometheus.CounterOpts{
			Name: "reqstream_realtime_listener_panics_total",
			Help: "Listener invocations that panicked",
		}),
	}
}
