package ledger

import (
	"fmt"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/models"
)

// The functions below are the only code allowed to change wallet amounts.
// Each one moves Balance together with the bucket it touches so that
// Balance == AvailableForWithdrawal + PendingWithdrawal holds after every call.

func credit(w *models.Wallet, amount int64) error {
	if amount <= 0 {
		return apperr.New(apperr.KindInvalidInput, "credit amount must be positive")
	}
	w.AvailableForWithdrawal += amount
	w.Balance += amount
	w.TotalEarned += amount
	return nil
}

func reverse(w *models.Wallet, amount int64) error {
	if amount <= 0 {
		return apperr.New(apperr.KindInvalidInput, "reversal amount must be positive")
	}
	if w.AvailableForWithdrawal < amount {
		return apperr.New(apperr.KindInsufficientBalance,
			"cannot reverse %d: only %d available", amount, w.AvailableForWithdrawal)
	}
	w.AvailableForWithdrawal -= amount
	w.Balance -= amount
	w.TotalEarned -= amount
	return nil
}

func hold(w *models.Wallet, amount int64) error {
	if amount <= 0 {
		return apperr.New(apperr.KindInvalidInput, "withdrawal amount must be positive")
	}
	if amount > w.AvailableForWithdrawal {
		return apperr.New(apperr.KindInsufficientBalance,
			"requested %d exceeds available %d", amount, w.AvailableForWithdrawal)
	}
	w.AvailableForWithdrawal -= amount
	w.PendingWithdrawal += amount
	return nil
}

func unhold(w *models.Wallet, amount int64) error {
	if amount <= 0 || amount > w.PendingWithdrawal {
		return fmt.Errorf("unhold %d: pending is %d", amount, w.PendingWithdrawal)
	}
	w.PendingWithdrawal -= amount
	w.AvailableForWithdrawal += amount
	return nil
}

func settle(w *models.Wallet, amount int64) error {
	if amount <= 0 || amount > w.PendingWithdrawal {
		return fmt.Errorf("settle %d: pending is %d", amount, w.PendingWithdrawal)
	}
	w.PendingWithdrawal -= amount
	w.Balance -= amount
	w.TotalWithdrawn += amount
	return nil
}

// CheckInvariant returns an error when the wallet buckets disagree.
func CheckInvariant(w *models.Wallet) error {
	if w.Balance != w.AvailableForWithdrawal+w.PendingWithdrawal {
		return fmt.Errorf("wallet %s: balance %d != available %d + pending %d",
			w.PhotographerID, w.Balance, w.AvailableForWithdrawal, w.PendingWithdrawal)
	}
	if w.AvailableForWithdrawal < 0 || w.PendingWithdrawal < 0 {
		return fmt.Errorf("wallet %s: negative bucket", w.PhotographerID)
	}
	return nil
}
