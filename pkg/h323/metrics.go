package h323

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics метрики конечной точки. Без Registerer метрики считаются,
// но не регистрируются.
type metrics struct {
	callsTotal     *prometheus.CounterVec
	callsEnded     *prometheus.CounterVec
	callsActive    prometheus.Gauge
	channelsOpened *prometheus.CounterVec
	channelsFailed *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h323",
			Subsystem: "endpoint",
			Name:      "calls_total",
			Help:      "Total number of calls by direction",
		}, []string{"direction"}),
		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h323",
			Subsystem: "endpoint",
			Name:      "calls_ended_total",
			Help:      "Total number of cleared calls by end reason",
		}, []string{"reason"}),
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "h323",
			Subsystem: "endpoint",
			Name:      "calls_active",
			Help:      "Number of calls in progress",
		}),
		channelsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h323",
			Subsystem: "endpoint",
			Name:      "logical_channels_opened_total",
			Help:      "Total number of opened logical channels by media kind",
		}, []string{"kind"}),
		channelsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h323",
			Subsystem: "endpoint",
			Name:      "logical_channels_failed_total",
			Help:      "Total number of rejected or failed logical channels by media kind",
		}, []string{"kind"}),
	}
}

func direction(originating bool) string {
	if originating {
		return "outgoing"
	}
	return "incoming"
}
