package models

import (
	"time"

	"github.com/google/uuid"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalPaid      WithdrawalStatus = "paid"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalPaid || s == WithdrawalRejected || s == WithdrawalCancelled
}

// Admin actions accepted by processWithdrawal.
const (
	WithdrawalActionApprove  = "approve"
	WithdrawalActionReject   = "reject"
	WithdrawalActionMarkPaid = "mark_paid"
)

type WithdrawalRequest struct {
	ID               uuid.UUID        `json:"id"`
	PhotographerID   uuid.UUID        `json:"photographer_id"`
	Amount           int64            `json:"amount"`
	Status           WithdrawalStatus `json:"status"`
	BankName         string           `json:"bank_name"`
	BankAccount      string           `json:"bank_account"`
	AccountHolder    string           `json:"account_holder"`
	AdminNote        string           `json:"admin_note,omitempty"`
	TransferProofURL string           `json:"transfer_proof_url,omitempty"`
	RequestedAt      time.Time        `json:"requested_at"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	Version          int              `json:"-"`
}
