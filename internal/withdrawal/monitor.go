package withdrawal

import (
	"context"
	"sort"
	"time"

	"github.com/ambilfoto/backend/internal/deadline"
	"github.com/ambilfoto/backend/internal/models"
)

// Alert is one pending request with its processing deadline state.
type Alert struct {
	Request  *models.WithdrawalRequest `json:"request"`
	Deadline time.Time                 `json:"deadline"`
	State    deadline.State            `json:"state"`
}

// AlertReport is what the admin withdrawal console polls. Alerts are sorted
// most urgent first.
type AlertReport struct {
	EvaluatedAt time.Time             `json:"evaluated_at"`
	Alerts      []Alert               `json:"alerts"`
	Counts      map[deadline.Tier]int `json:"counts"`
}

// EvaluateAlerts applies the processing SLA to pending requests. Requests in
// any other status are skipped; the monitor is advisory and never
// transitions anything.
func EvaluateAlerts(reqs []*models.WithdrawalRequest, now time.Time, policy deadline.Policy) AlertReport {
	r := AlertReport{
		EvaluatedAt: now,
		Alerts:      make([]Alert, 0, len(reqs)),
		Counts: map[deadline.Tier]int{
			deadline.TierNormal:   0,
			deadline.TierWarning:  0,
			deadline.TierCritical: 0,
		},
	}
	for _, w := range reqs {
		if w.Status != models.WithdrawalPending {
			continue
		}
		due := w.RequestedAt.Add(policy.Window)
		st := policy.Evaluate(now, due)
		r.Alerts = append(r.Alerts, Alert{Request: w, Deadline: due, State: st})
		r.Counts[st.Tier]++
	}
	sort.SliceStable(r.Alerts, func(i, j int) bool {
		return r.Alerts[i].Deadline.Before(r.Alerts[j].Deadline)
	})
	return r
}

// Alerts evaluates every pending request against the withdrawal SLA.
func (s *Service) Alerts(ctx context.Context) (*AlertReport, error) {
	pending, err := s.store.ListByStatus(ctx, []models.WithdrawalStatus{models.WithdrawalPending}, 500)
	if err != nil {
		return nil, err
	}
	r := EvaluateAlerts(pending, s.now(), deadline.WithdrawalSLA(s.cfg.SLAWindow))
	return &r, nil
}
