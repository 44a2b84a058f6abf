package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "husky_open_connections", Help: "Handshaken connections currently watched"})
	ApprovedUsers   = promauto.NewGauge(prometheus.GaugeOpts{Name: "husky_approved_users", Help: "Authenticated usernames"})
	WaitingUsers    = promauto.NewGauge(prometheus.GaugeOpts{Name: "husky_waiting_users", Help: "Pending one-sided tie requests"})
	ActiveTies      = promauto.NewGauge(prometheus.GaugeOpts{Name: "husky_active_ties", Help: "Established ties"})
	HandshakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "husky_handshakes_total", Help: "Upgrade handshakes by result"}, []string{"result"})
	FramesTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "husky_frames_total", Help: "Decoded inbound frames by kind"}, []string{"kind"})
	CommandsTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "husky_commands_total", Help: "Dispatched commands by flag and response"}, []string{"command", "response"})
	RelayedBytes    = promauto.NewCounter(prometheus.CounterOpts{Name: "husky_relayed_bytes_total", Help: "Message body bytes forwarded to tied peers"})
	ErrorsTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "husky_errors_total", Help: "Recovered errors by type"}, []string{"type"})
	TieDurationSecs = promauto.NewHistogram(prometheus.HistogramOpts{Name: "husky_tie_duration_seconds", Help: "Tie lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.1, 2, 16)})
	OutboxOverflow  = promauto.NewCounter(prometheus.CounterOpts{Name: "husky_outbox_overflow_total", Help: "Connections dropped because their outbox overflowed"})
)
