package gatekeeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests       *prometheus.CounterVec
	duplicates     prometheus.Counter
	endpoints      prometheus.Gauge
	calls          prometheus.Gauge
	bandwidthUsed  prometheus.Gauge
	bandwidthTotal prometheus.Gauge
	expired        *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h323",
			Subsystem: "gatekeeper",
			Name:      "ras_requests_total",
			Help:      "Total number of RAS requests by type and reply",
		}, []string{"type", "reply"}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "h323",
			Subsystem: "gatekeeper",
			Name:      "ras_retransmissions_total",
			Help:      "Total number of retransmitted RAS requests answered from cache",
		}),
		endpoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "h323",
			Subsystem: "gatekeeper",
			Name:      "registered_endpoints",
			Help:      "Number of registered endpoints",
		}),
		calls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "h323",
			Subsystem: "gatekeeper",
			Name:      "active_calls",
			Help:      "Number of admitted calls",
		}),
		bandwidthUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "h323",
			Subsystem: "gatekeeper",
			Name:      "bandwidth_used",
			Help:      "Allocated bandwidth in units of 100 bit/s",
		}),
		bandwidthTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "h323",
			Subsystem: "gatekeeper",
			Name:      "bandwidth_total",
			Help:      "Zone bandwidth in units of 100 bit/s",
		}),
		expired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h323",
			Subsystem: "gatekeeper",
			Name:      "expired_total",
			Help:      "Total number of endpoints and calls removed by the monitor",
		}, []string{"object"}),
	}
}
