package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func mustInvariant(t *testing.T, w *models.Wallet) {
	t.Helper()
	if err := CheckInvariant(w); err != nil {
		t.Fatal(err)
	}
}

func entriesOfType(t *testing.T, svc Service, pid uuid.UUID, entryType string) []*models.WalletEntry {
	t.Helper()
	all, err := svc.Entries(context.Background(), pid, 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	var out []*models.WalletEntry
	for _, e := range all {
		if e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// 1. Credit on release
// ---------------------------------------------------------------------------

func TestCreditRelease(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	pid, escrowID := uuid.New(), uuid.New()

	w, err := svc.CreditRelease(ctx, nil, pid, escrowID, 45_000)
	if err != nil {
		t.Fatalf("CreditRelease: %v", err)
	}
	mustInvariant(t, w)
	if w.AvailableForWithdrawal != 45_000 || w.TotalEarned != 45_000 {
		t.Errorf("after credit: available %d, earned %d", w.AvailableForWithdrawal, w.TotalEarned)
	}

	// Second credit for the same escrow must not apply.
	if _, err := svc.CreditRelease(ctx, nil, pid, escrowID, 45_000); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("double credit: expected invalid state, got %v", err)
	}
	got, _ := svc.Wallet(ctx, pid)
	if got.AvailableForWithdrawal != 45_000 {
		t.Errorf("double credit changed balance: %d", got.AvailableForWithdrawal)
	}
	if n := len(entriesOfType(t, svc, pid, models.WalletEntryEscrowRelease)); n != 1 {
		t.Errorf("escrow_release entries: got %d, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// 2. Withdrawal hold / reject / settle
// ---------------------------------------------------------------------------

func TestWithdrawalHoldAndRelease(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	pid, wid := uuid.New(), uuid.New()

	if _, err := svc.CreditRelease(ctx, nil, pid, uuid.New(), 200_000); err != nil {
		t.Fatal(err)
	}

	w, err := svc.HoldWithdrawal(ctx, nil, pid, wid, 150_000)
	if err != nil {
		t.Fatalf("HoldWithdrawal: %v", err)
	}
	mustInvariant(t, w)
	if w.AvailableForWithdrawal != 50_000 || w.PendingWithdrawal != 150_000 {
		t.Errorf("after hold: available %d pending %d", w.AvailableForWithdrawal, w.PendingWithdrawal)
	}

	w, err = svc.ReleaseWithdrawal(ctx, nil, pid, wid, 150_000, "bank details invalid")
	if err != nil {
		t.Fatalf("ReleaseWithdrawal: %v", err)
	}
	mustInvariant(t, w)
	if w.AvailableForWithdrawal != 200_000 || w.PendingWithdrawal != 0 {
		t.Errorf("after release: available %d pending %d", w.AvailableForWithdrawal, w.PendingWithdrawal)
	}
}

func TestWithdrawalSettle(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	pid, wid := uuid.New(), uuid.New()

	_, _ = svc.CreditRelease(ctx, nil, pid, uuid.New(), 300_000)
	_, _ = svc.HoldWithdrawal(ctx, nil, pid, wid, 120_000)

	w, err := svc.SettleWithdrawal(ctx, nil, pid, wid, 120_000)
	if err != nil {
		t.Fatalf("SettleWithdrawal: %v", err)
	}
	mustInvariant(t, w)
	if w.Balance != 180_000 || w.PendingWithdrawal != 0 || w.TotalWithdrawn != 120_000 {
		t.Errorf("after settle: %+v", w)
	}
}

func TestHoldInsufficientBalance(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	pid := uuid.New()
	_, _ = svc.CreditRelease(ctx, nil, pid, uuid.New(), 100_000)

	if _, err := svc.HoldWithdrawal(ctx, nil, pid, uuid.New(), 100_001); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	w, _ := svc.Wallet(ctx, pid)
	if w.AvailableForWithdrawal != 100_000 || w.PendingWithdrawal != 0 {
		t.Errorf("failed hold must not move funds: %+v", w)
	}
}

// ---------------------------------------------------------------------------
// 3. Chargeback reversal
// ---------------------------------------------------------------------------

func TestReverseRelease(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	pid, escrowID := uuid.New(), uuid.New()
	_, _ = svc.CreditRelease(ctx, nil, pid, escrowID, 80_000)

	w, err := svc.ReverseRelease(ctx, nil, pid, escrowID, 80_000, "dispute #88")
	if err != nil {
		t.Fatalf("ReverseRelease: %v", err)
	}
	mustInvariant(t, w)
	if w.Balance != 0 || w.TotalEarned != 0 {
		t.Errorf("after reversal: %+v", w)
	}
	if _, err := svc.ReverseRelease(ctx, nil, pid, escrowID, 80_000, "again"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("second reversal should be rejected, got %v", err)
	}
}

func TestReverseBlockedByPendingWithdrawal(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	pid, escrowID := uuid.New(), uuid.New()
	_, _ = svc.CreditRelease(ctx, nil, pid, escrowID, 150_000)
	_, _ = svc.HoldWithdrawal(ctx, nil, pid, uuid.New(), 150_000)

	if _, err := svc.ReverseRelease(ctx, nil, pid, escrowID, 150_000, "dispute"); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 4. Invariant across a mixed sequence
// ---------------------------------------------------------------------------

func TestInvariantAcrossSequence(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()
	pid := uuid.New()

	w1, w2 := uuid.New(), uuid.New()
	steps := []func() (*models.Wallet, error){
		func() (*models.Wallet, error) { return svc.CreditRelease(ctx, nil, pid, uuid.New(), 250_000) },
		func() (*models.Wallet, error) { return svc.CreditRelease(ctx, nil, pid, uuid.New(), 125_000) },
		func() (*models.Wallet, error) { return svc.HoldWithdrawal(ctx, nil, pid, w1, 100_000) },
		func() (*models.Wallet, error) { return svc.HoldWithdrawal(ctx, nil, pid, w2, 200_000) },
		func() (*models.Wallet, error) { return svc.SettleWithdrawal(ctx, nil, pid, w1, 100_000) },
		func() (*models.Wallet, error) { return svc.ReleaseWithdrawal(ctx, nil, pid, w2, 200_000, "cancelled") },
	}
	for i, step := range steps {
		w, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		mustInvariant(t, w)
	}

	w, _ := svc.Wallet(ctx, pid)
	if w.Balance != 275_000 || w.TotalEarned != 375_000 || w.TotalWithdrawn != 100_000 {
		t.Errorf("final wallet: %+v", w)
	}

	// Every ledger line records the balance right after it was applied.
	entries, _ := svc.Entries(ctx, pid, 0)
	if len(entries) != len(steps) {
		t.Fatalf("entries: got %d, want %d", len(entries), len(steps))
	}
}
