// Package withdrawal runs the photographer payout lifecycle: request, admin
// approval or rejection, transfer, and self-cancel, plus the admin SLA monitor.
package withdrawal

import (
	"strings"
	"time"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/models"
)

func invalidState(w *models.WithdrawalRequest, action string) error {
	return apperr.New(apperr.KindInvalidState, "cannot %s withdrawal %s in status %s", action, w.ID, w.Status)
}

// Approve accepts a pending request. The funds stay on hold until paid.
func Approve(w *models.WithdrawalRequest, now time.Time, note string) error {
	if w.Status != models.WithdrawalPending {
		return invalidState(w, "approve")
	}
	w.Status = models.WithdrawalApproved
	w.AdminNote = strings.TrimSpace(note)
	w.ProcessedAt = &now
	return nil
}

// Reject closes a pending or approved request. A note for the photographer
// is mandatory.
func Reject(w *models.WithdrawalRequest, now time.Time, note string) error {
	if w.Status != models.WithdrawalPending && w.Status != models.WithdrawalApproved {
		return invalidState(w, "reject")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return apperr.New(apperr.KindMissingNote, "a note is required to reject a withdrawal")
	}
	w.Status = models.WithdrawalRejected
	w.AdminNote = note
	w.ProcessedAt = &now
	return nil
}

// MarkPaid records the bank transfer of an approved request.
func MarkPaid(w *models.WithdrawalRequest, now time.Time, note, proofURL string) error {
	if w.Status != models.WithdrawalApproved {
		return invalidState(w, "mark paid")
	}
	w.Status = models.WithdrawalPaid
	w.TransferProofURL = strings.TrimSpace(proofURL)
	if note = strings.TrimSpace(note); note != "" {
		w.AdminNote = note
	}
	w.PaidAt = &now
	return nil
}

// Cancel is the photographer withdrawing their own pending request.
func Cancel(w *models.WithdrawalRequest, now time.Time) error {
	if w.Status != models.WithdrawalPending {
		return invalidState(w, "cancel")
	}
	w.Status = models.WithdrawalCancelled
	w.ProcessedAt = &now
	return nil
}
