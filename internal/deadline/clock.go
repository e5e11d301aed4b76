// Package deadline evaluates SLA windows against an injected reference time.
package deadline

import "time"

// Tier is the urgency bucket shown next to a deadline.
type Tier string

const (
	TierNormal   Tier = "normal"
	TierWarning  Tier = "warning"
	TierUrgent   Tier = "urgent"
	TierCritical Tier = "critical"
)

// Policy describes one SLA track. WarningAfter and UrgentAfter are measured
// from the start of the window; a zero value disables that tier.
type Policy struct {
	Name         string
	Window       time.Duration
	WarningAfter time.Duration
	UrgentAfter  time.Duration
}

// State is the display-facing view of a deadline at a reference time.
// Remaining is never negative.
type State struct {
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Progress  float64       `json:"progress"`
	IsOverdue bool          `json:"is_overdue"`
	Tier      Tier          `json:"tier"`
}

// UploadSLA is the photographer hi-res upload window.
func UploadSLA(window time.Duration) Policy {
	return fractional("upload", window)
}

// ConfirmationSLA is the buyer review window before auto-approval.
func ConfirmationSLA(window time.Duration) Policy {
	return fractional("confirmation", window)
}

// WithdrawalSLA is the admin processing window for withdrawal requests:
// warning at day 5 of 7, critical once the window is used up.
func WithdrawalSLA(window time.Duration) Policy {
	return Policy{
		Name:         "withdrawal",
		Window:       window,
		WarningAfter: window * 5 / 7,
	}
}

func fractional(name string, window time.Duration) Policy {
	return Policy{
		Name:         name,
		Window:       window,
		WarningAfter: window * 3 / 4,
		UrgentAfter:  window * 9 / 10,
	}
}

// Start returns the beginning of the window that ends at deadline.
func (p Policy) Start(deadline time.Time) time.Time {
	return deadline.Add(-p.Window)
}

// Evaluate computes the deadline state at now. It has no side effects.
func (p Policy) Evaluate(now, deadline time.Time) State {
	elapsed := now.Sub(p.Start(deadline))
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := deadline.Sub(now)
	overdue := remaining <= 0
	if overdue {
		remaining = 0
	}

	progress := 1.0
	if p.Window > 0 {
		progress = float64(elapsed) / float64(p.Window)
	}
	if progress > 1 {
		progress = 1
	}

	return State{
		Elapsed:   elapsed,
		Remaining: remaining,
		Progress:  progress,
		IsOverdue: overdue,
		Tier:      p.tier(elapsed, overdue),
	}
}

func (p Policy) tier(elapsed time.Duration, overdue bool) Tier {
	switch {
	case overdue:
		return TierCritical
	case p.UrgentAfter > 0 && elapsed >= p.UrgentAfter:
		return TierUrgent
	case p.WarningAfter > 0 && elapsed >= p.WarningAfter:
		return TierWarning
	default:
		return TierNormal
	}
}
