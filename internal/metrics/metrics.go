// Package metrics exposes Prometheus counters for escrow transitions,
// withdrawal actions and HTTP traffic. A nil *Metrics is a no-op.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	escrowTransitions *prometheus.CounterVec
	withdrawalActions *prometheus.CounterVec
	ledgerAmount      *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		escrowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambilfoto",
			Name:      "escrow_transitions_total",
			Help:      "Escrow status transitions committed, by source and target status.",
		}, []string{"from", "to", "auto"}),
		withdrawalActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambilfoto",
			Name:      "withdrawal_actions_total",
			Help:      "Withdrawal lifecycle actions committed.",
		}, []string{"action"}),
		ledgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambilfoto",
			Name:      "ledger_amount_rupiah_total",
			Help:      "Rupiah moved through the wallet ledger, by entry type.",
		}, []string{"entry_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambilfoto",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "status"}),
	}
	registry.MustRegister(m.escrowTransitions, m.withdrawalActions, m.ledgerAmount, m.httpRequests)
	return m
}

func (m *Metrics) EscrowTransition(from, to string, auto bool) {
	if m == nil {
		return
	}
	m.escrowTransitions.WithLabelValues(from, to, strconv.FormatBool(auto)).Inc()
}

func (m *Metrics) WithdrawalAction(action string) {
	if m == nil {
		return
	}
	m.withdrawalActions.WithLabelValues(action).Inc()
}

func (m *Metrics) LedgerAmount(entryType string, amount int64) {
	if m == nil {
		return
	}
	m.ledgerAmount.WithLabelValues(entryType).Add(float64(amount))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts every request by method and response status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
