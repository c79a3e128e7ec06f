// Package metrics wires the ambient Prometheus counters shared by the
// ingress and control-plane components: bytes transferred, active
// tunnels, and requests handled. This package only owns the registry
// and the label sets. The relay updates ActiveTunnels and HTTP ingress
// updates RequestsHandled; BytesSent, BytesReceived and ReconnectsTotal
// are registered but not incremented by any component.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every counter localup components report to. A
// single Registry is shared process-wide; components hold a pointer
// to it rather than to individual prometheus.Collectors.
type Registry struct {
	reg *prometheus.Registry

	BytesSent       *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	ActiveTunnels   prometheus.Gauge
	RequestsHandled *prometheus.CounterVec
	ReconnectsTotal prometheus.Counter
}

// New registers and returns a fresh metric set.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localup",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to a transport connection, by component.",
		}, []string{"component"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localup",
			Name:      "bytes_received_total",
			Help:      "Bytes read from a transport connection, by component.",
		}, []string{"component"}),
		ActiveTunnels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "localup",
			Name:      "active_tunnels",
			Help:      "Number of tunnel control connections currently established.",
		}),
		RequestsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localup",
			Name:      "requests_handled_total",
			Help:      "Ingress requests handled, by ingress component and outcome.",
		}, []string{"ingress", "outcome"}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "localup",
			Name:      "client_reconnects_total",
			Help:      "Client control-connection reconnect attempts.",
		}),
	}
}

// Handler exposes the registry on the conventional /metrics path.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
