package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "tn3270kit_active_connections", Help: "Open client connections by listener"}, []string{"listener"})
	ConnectionsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tn3270kit_connections_total", Help: "Accepted client connections by listener"}, []string{"listener"})
	LUsInUse          = promauto.NewGauge(prometheus.GaugeOpts{Name: "tn3270kit_lus_in_use", Help: "Logical units currently assigned"})
	LUsExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "tn3270kit_lus_exhausted_total", Help: "Connections refused because no LU was free"})
	NegotiationErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tn3270kit_negotiation_errors_total", Help: "Connections ended by a negotiation failure, by reason"}, []string{"reason"})
	TLSUpgradesTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tn3270kit_tls_upgrades_total", Help: "Connections secured with TLS, by mode"}, []string{"mode"})
	SessionsTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tn3270kit_sessions_total", Help: "Sessions that reached 3270 mode, by protocol"}, []string{"protocol"})
	RelayBytesTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tn3270kit_relay_bytes_total", Help: "Bytes relayed, by direction"}, []string{"direction"})
	SessionDuration   = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "tn3270kit_connection_duration_seconds", Help: "Connection lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)}, []string{"listener"})
)
