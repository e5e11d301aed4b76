package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet ledger entry types.
const (
	WalletEntryEscrowRelease     = "escrow_release"
	WalletEntryChargeback        = "chargeback"
	WalletEntryWithdrawalHold    = "withdrawal_hold"
	WalletEntryWithdrawalRelease = "withdrawal_release"
	WalletEntryWithdrawalPaid    = "withdrawal_paid"
)

// Wallet is the photographer's FOTOPOIN balance. Balance always equals
// AvailableForWithdrawal + PendingWithdrawal.
type Wallet struct {
	PhotographerID         uuid.UUID `json:"photographer_id"`
	Balance                int64     `json:"balance"`
	AvailableForWithdrawal int64     `json:"available_for_withdrawal"`
	PendingWithdrawal      int64     `json:"pending_withdrawal"`
	TotalEarned            int64     `json:"total_earned"`
	TotalWithdrawn         int64     `json:"total_withdrawn"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type WalletEntry struct {
	ID             uuid.UUID  `json:"id"`
	PhotographerID uuid.UUID  `json:"photographer_id"`
	EntryType      string     `json:"entry_type"`
	Amount         int64      `json:"amount"`
	EscrowID       *uuid.UUID `json:"escrow_id,omitempty"`
	WithdrawalID   *uuid.UUID `json:"withdrawal_id,omitempty"`
	BalanceAfter   int64      `json:"balance_after"`
	AvailableAfter int64      `json:"available_after"`
	Note           string     `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
