// Package escrow owns the purchase lifecycle of a photo: hi-res upload,
// buyer confirmation or revision, release to the photographer's wallet, and
// refund.
package escrow

import (
	"strings"
	"time"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/models"
)

// Policy holds the SLA windows the transitions apply.
type Policy struct {
	UploadWindow       time.Duration
	ConfirmationWindow time.Duration
}

// Effective returns the status an entry has at now. A WAITING_CONFIRMATION
// entry whose confirmation deadline has passed is RELEASED even if nothing
// has been written yet; auto is true in that case.
func Effective(e *models.EscrowEntry, now time.Time) (status models.EscrowStatus, auto bool) {
	if e.Status == models.EscrowWaitingConfirmation && e.ConfirmationDeadline != nil &&
		!now.Before(*e.ConfirmationDeadline) {
		return models.EscrowReleased, true
	}
	return e.Status, false
}

// NeedsReconcile reports whether the stored status lags the effective one.
func NeedsReconcile(e *models.EscrowEntry, now time.Time) bool {
	_, auto := Effective(e, now)
	return auto
}

func invalidState(e *models.EscrowEntry, status models.EscrowStatus, action string) error {
	return apperr.New(apperr.KindInvalidState, "cannot %s escrow %s in status %s", action, e.ID, status)
}

// Upload moves HELD or REVISION_REQUESTED to WAITING_CONFIRMATION and starts
// the buyer confirmation window.
func (p Policy) Upload(e *models.EscrowEntry, now time.Time) error {
	status, _ := Effective(e, now)
	if status != models.EscrowHeld && status != models.EscrowRevisionRequested {
		return invalidState(e, status, "upload hi-res for")
	}
	deadline := now.Add(p.ConfirmationWindow)
	delivered := now
	e.Status = models.EscrowWaitingConfirmation
	e.DeliveredAt = &delivered
	e.ConfirmationDeadline = &deadline
	return nil
}

// Release moves WAITING_CONFIRMATION to RELEASED. For an automatic release
// the release time is the confirmation deadline, not the time it was noticed.
func (p Policy) Release(e *models.EscrowEntry, now time.Time, auto bool) error {
	if e.Status != models.EscrowWaitingConfirmation {
		return invalidState(e, e.Status, "release")
	}
	if auto && !NeedsReconcile(e, now) {
		return invalidState(e, e.Status, "auto-release")
	}
	released := now
	if auto {
		released = *e.ConfirmationDeadline
	}
	e.Status = models.EscrowReleased
	e.ReleasedAt = &released
	e.AutoReleased = auto
	return nil
}

// RequestRevision sends the delivery back to the photographer and resets the
// upload deadline. The reason is mandatory.
func (p Policy) RequestRevision(e *models.EscrowEntry, now time.Time, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.New(apperr.KindMissingNote, "a revision reason is required")
	}
	status, _ := Effective(e, now)
	if status != models.EscrowWaitingConfirmation {
		return invalidState(e, status, "request revision on")
	}
	if e.RevisionCount >= e.MaxRevisions {
		return apperr.New(apperr.KindRevisionLimitExceeded,
			"escrow %s already used %d of %d revisions; open a complaint instead", e.ID, e.RevisionCount, e.MaxRevisions)
	}
	e.Status = models.EscrowRevisionRequested
	e.RevisionCount++
	e.RevisionReason = reason
	e.UploadDeadline = now.Add(p.UploadWindow)
	e.ConfirmationDeadline = nil
	return nil
}

// Refund closes any non-terminal entry. Released entries are not refundable
// here; see Service.Chargeback.
func (p Policy) Refund(e *models.EscrowEntry, now time.Time, reason string) error {
	status, _ := Effective(e, now)
	if status.Terminal() {
		return invalidState(e, status, "refund")
	}
	refunded := now
	e.Status = models.EscrowRefunded
	e.RefundedAt = &refunded
	e.RefundReason = strings.TrimSpace(reason)
	return nil
}
