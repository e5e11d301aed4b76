package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.EscrowTransition("HELD", "WAITING_CONFIRMATION", false)
	m.WithdrawalAction("approve")
	m.LedgerAmount("escrow_release", 10)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("got %d", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.EscrowTransition("WAITING_CONFIRMATION", "RELEASED", true)
	m.WithdrawalAction("mark_paid")
	m.LedgerAmount("escrow_release", 45000)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/escrow/x/confirm", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`ambilfoto_escrow_transitions_total{auto="true",from="WAITING_CONFIRMATION",to="RELEASED"} 1`,
		`ambilfoto_withdrawal_actions_total{action="mark_paid"} 1`,
		`ambilfoto_ledger_amount_rupiah_total{entry_type="escrow_release"} 45000`,
		`ambilfoto_http_requests_total{method="POST",status="409"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
