package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/execution"
	"github.com/ambilfoto/backend/internal/ledger"
	"github.com/ambilfoto/backend/internal/metrics"
	"github.com/ambilfoto/backend/internal/models"
)

// DefaultMinimum is the smallest payout in Rupiah.
const DefaultMinimum int64 = 100_000

// Store persists withdrawal requests. Update must fail with
// apperr.ErrConcurrentModification when w.Version no longer matches the row.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	Update(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error
	ListByPhotographer(ctx context.Context, photographerID uuid.UUID, limit int) ([]*models.WithdrawalRequest, error)
	ListByStatus(ctx context.Context, statuses []models.WithdrawalStatus, limit int) ([]*models.WithdrawalRequest, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Config struct {
	Minimum   int64
	SLAWindow time.Duration
}

type Service struct {
	pool    TxBeginner
	store   Store
	ledger  ledger.Service
	notify  execution.EnqueueNotifyFunc
	metrics *metrics.Metrics
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

func NewService(pool TxBeginner, store Store, ledgerSvc ledger.Service, notify execution.EnqueueNotifyFunc,
	m *metrics.Metrics, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Minimum <= 0 {
		cfg.Minimum = DefaultMinimum
	}
	if cfg.SLAWindow <= 0 {
		cfg.SLAWindow = 7 * 24 * time.Hour
	}
	return &Service{pool: pool, store: store, ledger: ledgerSvc, notify: notify, metrics: m, cfg: cfg, log: log, now: time.Now}
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, event string, recipient uuid.UUID, w *models.WithdrawalRequest) error {
	if s.notify == nil {
		return nil
	}
	id := w.ID
	err := s.notify(ctx, tx, execution.NotifyArgs{
		Event:        event,
		RecipientID:  recipient,
		WithdrawalID: &id,
		Data:         map[string]any{"amount": w.Amount, "status": w.Status, "admin_note": w.AdminNote},
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", event, err)
	}
	return nil
}

type RequestInput struct {
	PhotographerID uuid.UUID `json:"-"`
	Amount         int64     `json:"amount"`
	BankName       string    `json:"bank_name"`
	BankAccount    string    `json:"bank_account"`
	AccountHolder  string    `json:"account_holder"`
}

// Request opens a pending withdrawal and moves the amount from available to
// pending. The balance check runs under the wallet row lock.
func (s *Service) Request(ctx context.Context, in RequestInput) (*models.WithdrawalRequest, error) {
	in.BankName = strings.TrimSpace(in.BankName)
	in.BankAccount = strings.TrimSpace(in.BankAccount)
	in.AccountHolder = strings.TrimSpace(in.AccountHolder)
	if in.BankName == "" || in.BankAccount == "" || in.AccountHolder == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "bank_name, bank_account and account_holder are required")
	}
	if in.Amount < s.cfg.Minimum {
		return nil, apperr.New(apperr.KindBelowMinimum, "minimum withdrawal is Rp %d, requested Rp %d", s.cfg.Minimum, in.Amount)
	}

	w := &models.WithdrawalRequest{
		ID:             uuid.New(),
		PhotographerID: in.PhotographerID,
		Amount:         in.Amount,
		Status:         models.WithdrawalPending,
		BankName:       in.BankName,
		BankAccount:    in.BankAccount,
		AccountHolder:  in.AccountHolder,
		RequestedAt:    s.now(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Create(ctx, tx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	if _, err := s.ledger.HoldWithdrawal(ctx, tx, w.PhotographerID, w.ID, w.Amount); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, execution.EventWithdrawalRequested, models.SystemAccountID, w); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit withdrawal request: %w", err)
	}
	s.metrics.WithdrawalAction("request")
	s.metrics.LedgerAmount(models.WalletEntryWithdrawalHold, w.Amount)
	s.log.Info("withdrawal requested", "withdrawal_id", w.ID, "photographer_id", w.PhotographerID, "amount", w.Amount)
	return w, nil
}

type ProcessInput struct {
	Action           string `json:"action"`
	Note             string `json:"note"`
	TransferProofURL string `json:"transfer_proof_url"`
}

// Process applies an admin action. Rejection returns the hold to available;
// payment settles it out of the wallet.
func (s *Service) Process(ctx context.Context, id uuid.UUID, in ProcessInput) (*models.WithdrawalRequest, error) {
	var (
		apply func(w *models.WithdrawalRequest, now time.Time) error
		event string
	)
	switch in.Action {
	case models.WithdrawalActionApprove:
		apply = func(w *models.WithdrawalRequest, now time.Time) error { return Approve(w, now, in.Note) }
		event = execution.EventWithdrawalApproved
	case models.WithdrawalActionReject:
		apply = func(w *models.WithdrawalRequest, now time.Time) error { return Reject(w, now, in.Note) }
		event = execution.EventWithdrawalRejected
	case models.WithdrawalActionMarkPaid:
		apply = func(w *models.WithdrawalRequest, now time.Time) error {
			return MarkPaid(w, now, in.Note, in.TransferProofURL)
		}
		event = execution.EventWithdrawalPaid
	default:
		return nil, apperr.New(apperr.KindInvalidInput, "unknown action %q", in.Action)
	}
	w, err := s.mutate(ctx, id, in.Action, apply, event)
	if err != nil {
		return nil, err
	}
	s.metrics.WithdrawalAction(in.Action)
	return w, nil
}

// Cancel lets the photographer withdraw their own pending request.
func (s *Service) Cancel(ctx context.Context, id, photographerID uuid.UUID) (*models.WithdrawalRequest, error) {
	w, err := s.mutate(ctx, id, "cancel", func(w *models.WithdrawalRequest, now time.Time) error {
		if w.PhotographerID != photographerID {
			return apperr.New(apperr.KindForbidden, "withdrawal %s belongs to another photographer", w.ID)
		}
		return Cancel(w, now)
	}, execution.EventWithdrawalCancelled)
	if err != nil {
		return nil, err
	}
	s.metrics.WithdrawalAction("cancel")
	return w, nil
}

type applyFunc func(w *models.WithdrawalRequest, now time.Time) error

// mutate re-reads the request, applies the transition and its wallet effect
// in one transaction, and retries once on a write conflict.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, action string, apply applyFunc, event string) (*models.WithdrawalRequest, error) {
	w, err := s.mutateOnce(ctx, id, action, apply, event)
	if apperr.Retryable(err) {
		s.log.Warn("withdrawal write conflict, retrying", "withdrawal_id", id, "action", action)
		w, err = s.mutateOnce(ctx, id, action, apply, event)
	}
	return w, err
}

func (s *Service) mutateOnce(ctx context.Context, id uuid.UUID, action string, apply applyFunc, event string) (*models.WithdrawalRequest, error) {
	w, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := w.Status
	if err := apply(w, s.now()); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Update(ctx, tx, w); err != nil {
		return nil, err
	}
	switch w.Status {
	case models.WithdrawalRejected, models.WithdrawalCancelled:
		if _, err := s.ledger.ReleaseWithdrawal(ctx, tx, w.PhotographerID, w.ID, w.Amount, w.AdminNote); err != nil {
			return nil, fmt.Errorf("release hold: %w", err)
		}
		s.metrics.LedgerAmount(models.WalletEntryWithdrawalRelease, w.Amount)
	case models.WithdrawalPaid:
		if _, err := s.ledger.SettleWithdrawal(ctx, tx, w.PhotographerID, w.ID, w.Amount); err != nil {
			return nil, fmt.Errorf("settle hold: %w", err)
		}
		s.metrics.LedgerAmount(models.WalletEntryWithdrawalPaid, w.Amount)
	}
	recipient := w.PhotographerID
	if w.Status == models.WithdrawalCancelled {
		recipient = models.SystemAccountID
	}
	if err := s.enqueue(ctx, tx, event, recipient, w); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit %s: %w", action, err)
	}
	s.log.Info("withdrawal transition", "withdrawal_id", w.ID, "from", from, "to", w.Status, "action", action)
	return w, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListForPhotographer(ctx context.Context, photographerID uuid.UUID, limit int) ([]*models.WithdrawalRequest, error) {
	return s.store.ListByPhotographer(ctx, photographerID, clampLimit(limit))
}

// List returns requests in the given statuses, or every open one when none
// are given.
func (s *Service) List(ctx context.Context, statuses []models.WithdrawalStatus, limit int) ([]*models.WithdrawalRequest, error) {
	if len(statuses) == 0 {
		statuses = []models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalApproved}
	}
	return s.store.ListByStatus(ctx, statuses, clampLimit(limit))
}

// WalletSummary is the payout console header: balances plus recent lines.
type WalletSummary struct {
	Wallet  *models.Wallet     `json:"wallet"`
	Entries []*WalletEntryView `json:"entries"`
	Minimum int64              `json:"minimum_withdrawal"`
}

type WalletEntryView struct {
	*models.WalletEntry
	Label string `json:"label"`
}

func (s *Service) Wallet(ctx context.Context, photographerID uuid.UUID, limit int) (*WalletSummary, error) {
	w, err := s.ledger.Wallet(ctx, photographerID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.Entries(ctx, photographerID, limit)
	if err != nil {
		return nil, err
	}
	out := &WalletSummary{Wallet: w, Minimum: s.cfg.Minimum, Entries: make([]*WalletEntryView, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, &WalletEntryView{WalletEntry: e, Label: models.EntryTypeLabel(e.EntryType)})
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
