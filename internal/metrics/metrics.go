package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arena"

type Metrics struct {
	registry *prometheus.Registry

	Transitions        *prometheus.CounterVec
	LiveEvents         prometheus.Gauge
	Signups            *prometheus.CounterVec
	ReservationsFreed  prometheus.Counter
	Bets               *prometheus.CounterVec
	StakeVolume        *prometheus.CounterVec
	Payouts            *prometheus.CounterVec
	SettlementFailures *prometheus.CounterVec
	ProgFailures       *prometheus.CounterVec
}

// New builds the arena collectors on a private registry so tests can create
// as many as they like without colliding on the global one.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_transitions_total",
			Help:      "Event state transitions by target state.",
		}, []string{"state"}),
		LiveEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_events",
			Help:      "Events the lifecycle controller is currently tracking.",
		}),
		Signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signups_total",
			Help:      "Signup attempts by result.",
		}, []string{"result"}),
		ReservationsFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_reclaimed_total",
			Help:      "Expired reservations returned to their side.",
		}),
		Bets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bets_total",
			Help:      "Bets placed or cancelled by odds model.",
		}, []string{"action", "model"}),
		StakeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stake_volume",
			Help:      "Stake accepted into escrow, in currency units.",
		}, []string{"model"}),
		Payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout rows generated, split by whether they were withheld.",
		}, []string{"blocked"}),
		SettlementFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_failures_total",
			Help:      "Failed resolution steps by step.",
		}, []string{"step"}),
		ProgFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prog_failures_total",
			Help:      "Prog invocations that timed out or failed, by hook.",
		}, []string{"prog"}),
	}
	m.registry.MustRegister(
		m.Transitions, m.LiveEvents, m.Signups, m.ReservationsFreed, m.Bets,
		m.StakeVolume, m.Payouts, m.SettlementFailures, m.ProgFailures,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
