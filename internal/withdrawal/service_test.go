package withdrawal

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/deadline"
	"github.com/ambilfoto/backend/internal/execution"
	"github.com/ambilfoto/backend/internal/ledger"
	"github.com/ambilfoto/backend/internal/models"
)

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- Store mock with optimistic versioning ---

type memStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]models.WithdrawalRequest
	// stale, when set, bumps the stored version once before the next Update.
	stale bool
}

func newMemStore() *memStore {
	return &memStore{requests: make(map[uuid.UUID]models.WithdrawalRequest)}
}

func (m *memStore) Create(_ context.Context, _ pgx.Tx, w *models.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Version = 1
	m.requests[w.ID] = *w
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.requests[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "withdrawal %s not found", id)
	}
	return &w, nil
}

func (m *memStore) Update(_ context.Context, _ pgx.Tx, w *models.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.requests[w.ID]
	if m.stale {
		m.stale = false
		cur.Version++
		m.requests[w.ID] = cur
	}
	if cur.Version != w.Version {
		return apperr.New(apperr.KindConcurrentModification, "withdrawal %s was modified concurrently", w.ID)
	}
	w.Version++
	m.requests[w.ID] = *w
	return nil
}

func (m *memStore) list(match func(models.WithdrawalRequest) bool) []*models.WithdrawalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WithdrawalRequest
	for _, w := range m.requests {
		if match(w) {
			cp := w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

func (m *memStore) ListByPhotographer(_ context.Context, photographerID uuid.UUID, _ int) ([]*models.WithdrawalRequest, error) {
	return m.list(func(w models.WithdrawalRequest) bool { return w.PhotographerID == photographerID }), nil
}

func (m *memStore) ListByStatus(_ context.Context, statuses []models.WithdrawalStatus, _ int) ([]*models.WithdrawalRequest, error) {
	return m.list(func(w models.WithdrawalRequest) bool {
		for _, s := range statuses {
			if w.Status == s {
				return true
			}
		}
		return false
	}), nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type fixture struct {
	svc    *Service
	store  *memStore
	ledger ledger.Service
	notes  []execution.NotifyArgs
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), ledger: ledger.NewService(ledger.NewMemoryStore()), now: t0}
	notify := func(_ context.Context, _ pgx.Tx, args execution.NotifyArgs) error {
		f.notes = append(f.notes, args)
		return nil
	}
	f.svc = NewService(mockPool{}, f.store, f.ledger, notify, nil, Config{}, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

// fund credits the photographer as if escrow entries had been released.
func (f *fixture) fund(t *testing.T, photographerID uuid.UUID, amount int64) {
	t.Helper()
	if _, err := f.ledger.CreditRelease(context.Background(), noopTx{}, photographerID, uuid.New(), amount); err != nil {
		t.Fatalf("CreditRelease: %v", err)
	}
}

func (f *fixture) wallet(t *testing.T, photographerID uuid.UUID) *models.Wallet {
	t.Helper()
	w, err := f.ledger.Wallet(context.Background(), photographerID)
	if err != nil {
		t.Fatalf("Wallet: %v", err)
	}
	if w.Balance != w.AvailableForWithdrawal+w.PendingWithdrawal {
		t.Fatalf("wallet invariant broken: %+v", w)
	}
	return w
}

func (f *fixture) request(photographerID uuid.UUID, amount int64) (*models.WithdrawalRequest, error) {
	return f.svc.Request(context.Background(), RequestInput{
		PhotographerID: photographerID,
		Amount:         amount,
		BankName:       "BCA",
		BankAccount:    "1234567890",
		AccountHolder:  "Rina Fotografer",
	})
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRequestBounds(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		want   error
	}{
		{"below minimum", 99_999, apperr.ErrBelowMinimum},
		{"exact minimum", 100_000, nil},
		{"all available", 200_000, nil},
		{"above available", 200_001, apperr.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			pid := uuid.New()
			f.fund(t, pid, 200_000)

			w, err := f.request(pid, tt.amount)
			wallet := f.wallet(t, pid)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
				if wallet.AvailableForWithdrawal != 200_000 || wallet.PendingWithdrawal != 0 {
					t.Fatalf("failed request changed the wallet: %+v", wallet)
				}
				return
			}
			if err != nil {
				t.Fatalf("Request: %v", err)
			}
			if w.Status != models.WithdrawalPending {
				t.Errorf("status = %s", w.Status)
			}
			if wallet.AvailableForWithdrawal != 200_000-tt.amount || wallet.PendingWithdrawal != tt.amount {
				t.Errorf("wallet = %+v", wallet)
			}
		})
	}
}

func TestRequestNeedsBankDetails(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Request(context.Background(), RequestInput{PhotographerID: uuid.New(), Amount: 150_000})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

// Rp 150k requested from Rp 200k available, then rejected with a note.
func TestRejectRestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := uuid.New()
	f.fund(t, pid, 200_000)

	w, err := f.request(pid, 150_000)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := f.svc.Process(ctx, w.ID, ProcessInput{Action: models.WithdrawalActionReject}); !errors.Is(err, apperr.ErrMissingNote) {
		t.Fatalf("expected missing_note, got %v", err)
	}
	if got := f.wallet(t, pid); got.PendingWithdrawal != 150_000 {
		t.Fatalf("failed reject moved funds: %+v", got)
	}

	rejected, err := f.svc.Process(ctx, w.ID, ProcessInput{Action: models.WithdrawalActionReject, Note: "bank details invalid"})
	if err != nil {
		t.Fatalf("Process reject: %v", err)
	}
	if rejected.Status != models.WithdrawalRejected || rejected.AdminNote != "bank details invalid" {
		t.Fatalf("unexpected request %+v", rejected)
	}
	got := f.wallet(t, pid)
	if got.AvailableForWithdrawal != 200_000 || got.PendingWithdrawal != 0 || got.Balance != 200_000 {
		t.Fatalf("wallet = %+v", got)
	}

	if _, err := f.svc.Process(ctx, w.ID, ProcessInput{Action: models.WithdrawalActionApprove}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("rejected request must be immutable, got %v", err)
	}
}

func TestApproveAndPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := uuid.New()
	f.fund(t, pid, 500_000)
	w, err := f.request(pid, 300_000)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	if _, err := f.svc.Process(ctx, w.ID, ProcessInput{Action: models.WithdrawalActionMarkPaid}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("mark_paid before approve: expected invalid_state, got %v", err)
	}
	if _, err := f.svc.Process(ctx, w.ID, ProcessInput{Action: models.WithdrawalActionApprove}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := f.wallet(t, pid); got.PendingWithdrawal != 300_000 {
		t.Fatalf("approval must keep the hold: %+v", got)
	}

	paid, err := f.svc.Process(ctx, w.ID, ProcessInput{Action: models.WithdrawalActionMarkPaid, TransferProofURL: "https://proof/77.jpg"})
	if err != nil {
		t.Fatalf("mark_paid: %v", err)
	}
	if paid.PaidAt == nil || paid.TransferProofURL != "https://proof/77.jpg" {
		t.Fatalf("unexpected request %+v", paid)
	}
	got := f.wallet(t, pid)
	if got.Balance != 200_000 || got.AvailableForWithdrawal != 200_000 || got.PendingWithdrawal != 0 || got.TotalWithdrawn != 300_000 {
		t.Fatalf("wallet = %+v", got)
	}
	if _, err := f.svc.Cancel(ctx, w.ID, pid); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("cancel after paid: expected invalid_state, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := uuid.New()
	f.fund(t, pid, 150_000)
	w, err := f.request(pid, 150_000)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	if _, err := f.svc.Cancel(ctx, w.ID, uuid.New()); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("cancel by stranger: expected forbidden, got %v", err)
	}
	cancelled, err := f.svc.Cancel(ctx, w.ID, pid)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.WithdrawalCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if got := f.wallet(t, pid); got.AvailableForWithdrawal != 150_000 || got.PendingWithdrawal != 0 {
		t.Fatalf("wallet = %+v", got)
	}
	if _, err := f.svc.Cancel(ctx, w.ID, pid); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("second cancel: expected invalid_state, got %v", err)
	}
}

func TestUnknownAction(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Process(context.Background(), uuid.New(), ProcessInput{Action: "refund"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestProcessRetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	pid := uuid.New()
	f.fund(t, pid, 200_000)
	w, err := f.request(pid, 100_000)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	f.store.stale = true
	got, err := f.svc.Process(context.Background(), w.ID, ProcessInput{Action: models.WithdrawalActionApprove})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.Status != models.WithdrawalApproved {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestWalletSummaryLabels(t *testing.T) {
	f := newFixture(t)
	pid := uuid.New()
	f.fund(t, pid, 200_000)
	if _, err := f.request(pid, 100_000); err != nil {
		t.Fatalf("Request: %v", err)
	}
	s, err := f.svc.Wallet(context.Background(), pid, 0)
	if err != nil {
		t.Fatalf("Wallet: %v", err)
	}
	if s.Minimum != DefaultMinimum || len(s.Entries) != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
	for _, e := range s.Entries {
		if e.Label == "" || e.Label == e.EntryType {
			t.Errorf("entry %s has no display label", e.EntryType)
		}
	}
}

func TestAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := uuid.New()
	f.fund(t, pid, 1_000_000)

	old, _ := f.request(pid, 100_000) // day 0
	f.now = f.now.Add(2 * 24 * time.Hour)
	mid, _ := f.request(pid, 100_000) // day 2
	f.now = f.now.Add(4 * 24 * time.Hour)
	fresh, _ := f.request(pid, 100_000) // day 6
	done, _ := f.request(pid, 100_000)
	if _, err := f.svc.Process(ctx, done.ID, ProcessInput{Action: models.WithdrawalActionApprove}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	f.now = f.now.Add(24 * time.Hour) // day 7
	r, err := f.svc.Alerts(ctx)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(r.Alerts) != 3 {
		t.Fatalf("expected 3 pending alerts, got %d", len(r.Alerts))
	}
	want := []struct {
		id   uuid.UUID
		tier deadline.Tier
	}{
		{old.ID, deadline.TierCritical},
		{mid.ID, deadline.TierWarning},
		{fresh.ID, deadline.TierNormal},
	}
	for i, w := range want {
		if r.Alerts[i].Request.ID != w.id || r.Alerts[i].State.Tier != w.tier {
			t.Errorf("alert %d: got %s/%s, want %s/%s", i, r.Alerts[i].Request.ID, r.Alerts[i].State.Tier, w.id, w.tier)
		}
	}
	if r.Counts[deadline.TierCritical] != 1 || r.Counts[deadline.TierWarning] != 1 || r.Counts[deadline.TierNormal] != 1 {
		t.Errorf("counts = %v", r.Counts)
	}
}
