package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the connection layer's prometheus collectors
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionsIdled    prometheus.Counter

	FramesReceived *prometheus.CounterVec // by shape
	FramesSent     prometheus.Counter
	FrameErrors    *prometheus.CounterVec // by kind

	SendRetries     prometheus.Counter
	DiscoveryRounds prometheus.Counter
	DiscoverySent   prometheus.Counter

	Rejections *prometheus.CounterVec // by reason
	Duplicates prometheus.Counter
}

// NewMetrics creates collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const ns = "zentalk_peer"

	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_accepted_total",
			Help:      "Inbound connections accepted.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connections_active",
			Help:      "Inbound connections currently open.",
		}),
		ConnectionsIdled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_idle_closed_total",
			Help:      "Inbound connections closed by the idle sweep.",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_received_total",
			Help:      "Frames received, by packet shape.",
		}, []string{"shape"}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_sent_total",
			Help:      "Frames written by clients.",
		}),
		FrameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frame_errors_total",
			Help:      "Frames dropped, by error kind.",
		}, []string{"kind"}),
		SendRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "send_retries_total",
			Help:      "Frame sends retried after a connection error.",
		}),
		DiscoveryRounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "discovery_rounds_total",
			Help:      "Discovery rounds run.",
		}),
		DiscoverySent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "discovery_sent_total",
			Help:      "Discovery frames sent.",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "packets_rejected_total",
			Help:      "Packets rejected, by reason.",
		}, []string{"reason"}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_duplicate_total",
			Help:      "Frames dropped as duplicates.",
		}),
	}
}

func orNewMetrics(m *Metrics) *Metrics {
	if m == nil {
		return NewMetrics(nil)
	}
	return m
}
