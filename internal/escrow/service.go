package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/deadline"
	"github.com/ambilfoto/backend/internal/delivery"
	"github.com/ambilfoto/backend/internal/execution"
	"github.com/ambilfoto/backend/internal/ledger"
	"github.com/ambilfoto/backend/internal/metrics"
	"github.com/ambilfoto/backend/internal/models"
)

// ErrDuplicateTransaction is returned by a Store when an entry already exists
// for the payment transaction id.
var ErrDuplicateTransaction = errors.New("escrow entry already exists for transaction")

// errUnchanged makes a transition a successful no-op (nothing is written).
var errUnchanged = errors.New("unchanged")

// Store persists escrow entries. Update must fail with
// apperr.ErrConcurrentModification when e.Version no longer matches the row.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowEntry, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.EscrowEntry, error)
	Update(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]*models.EscrowEntry, error)
	ListByPhotographer(ctx context.Context, photographerID uuid.UUID, statuses []models.EscrowStatus, limit int) ([]*models.EscrowEntry, error)
	ListByStatus(ctx context.Context, statuses []models.EscrowStatus, limit int) ([]*models.EscrowEntry, error)
	ListOverdueConfirmations(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListPurchasedSince(ctx context.Context, since time.Time) ([]*models.EscrowEntry, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MaxPlatformFeePercent keeps photographer_share above zero for any amount > 0.
const MaxPlatformFeePercent = 99

type Config struct {
	UploadWindow       time.Duration
	ConfirmationWindow time.Duration
	MaxRevisions       int
	PlatformFeePercent int64
	SweepBatch         int
}

type Service struct {
	pool     TxBeginner
	store    Store
	versions delivery.Store
	ledger   ledger.Service
	notify   execution.EnqueueNotifyFunc
	metrics  *metrics.Metrics
	cfg      Config
	policy   Policy
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires the escrow state machine. notify and m may be nil.
func NewService(pool TxBeginner, store Store, versions delivery.Store, ledgerSvc ledger.Service,
	notify execution.EnqueueNotifyFunc, m *metrics.Metrics, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	// The photographer share must stay positive for every paid purchase.
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent > MaxPlatformFeePercent {
		clamped := min(max(cfg.PlatformFeePercent, 0), MaxPlatformFeePercent)
		log.Warn("platform fee percent out of range, clamping", "configured", cfg.PlatformFeePercent, "using", clamped)
		cfg.PlatformFeePercent = clamped
	}
	return &Service{
		pool:     pool,
		store:    store,
		versions: versions,
		ledger:   ledgerSvc,
		notify:   notify,
		metrics:  m,
		cfg:      cfg,
		policy:   Policy{UploadWindow: cfg.UploadWindow, ConfirmationWindow: cfg.ConfirmationWindow},
		log:      log,
		now:      time.Now,
	}
}

// View is an entry as the consoles see it: effective status, deadline states
// and delivered versions.
type View struct {
	*models.EscrowEntry
	EffectiveStatus models.EscrowStatus       `json:"effective_status"`
	StatusLabel     string                    `json:"status_label"`
	RevisionsLeft   int                       `json:"revisions_left"`
	UploadSLA       *deadline.State           `json:"upload_sla,omitempty"`
	ConfirmationSLA *deadline.State           `json:"confirmation_sla,omitempty"`
	Versions        []*models.DeliveryVersion `json:"versions,omitempty"`
}

func (s *Service) view(e *models.EscrowEntry, now time.Time) *View {
	status, _ := Effective(e, now)
	v := &View{
		EscrowEntry:     e,
		EffectiveStatus: status,
		StatusLabel:     models.StatusLabel(string(status)),
		RevisionsLeft:   max(e.MaxRevisions-e.RevisionCount, 0),
	}
	switch status {
	case models.EscrowHeld, models.EscrowRevisionRequested:
		st := deadline.UploadSLA(s.cfg.UploadWindow).Evaluate(now, e.UploadDeadline)
		v.UploadSLA = &st
	case models.EscrowWaitingConfirmation:
		st := deadline.ConfirmationSLA(s.cfg.ConfirmationWindow).Evaluate(now, *e.ConfirmationDeadline)
		v.ConfirmationSLA = &st
	}
	return v
}

// --- transitions ---

// transition is one state change. apply mutates the entry in memory; effects
// runs after the optimistic write inside the same transaction.
type transition struct {
	name    string
	apply   func(e *models.EscrowEntry, now time.Time) error
	effects func(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error
}

// mutate runs t against fresh state and retries once on a write conflict.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, t transition) (*models.EscrowEntry, error) {
	e, err := s.mutateOnce(ctx, id, t)
	if apperr.Retryable(err) {
		s.log.Warn("escrow write conflict, retrying", "escrow_id", id, "transition", t.name)
		e, err = s.mutateOnce(ctx, id, t)
	}
	return e, err
}

func (s *Service) mutateOnce(ctx context.Context, id uuid.UUID, t transition) (*models.EscrowEntry, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := e.Status
	now := s.now()
	if err := t.apply(e, now); err != nil {
		if errors.Is(err, errUnchanged) {
			return e, nil
		}
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Update(ctx, tx, e); err != nil {
		return nil, err
	}
	if t.effects != nil {
		if err := t.effects(ctx, tx, e); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit %s: %w", t.name, err)
	}

	s.metrics.EscrowTransition(string(from), string(e.Status), e.AutoReleased)
	s.log.Info("escrow transition", "escrow_id", e.ID, "from", from, "to", e.Status, "transition", t.name)
	return e, nil
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, event string, recipient uuid.UUID, e *models.EscrowEntry, data map[string]any) error {
	if s.notify == nil {
		return nil
	}
	id := e.ID
	if err := s.notify(ctx, tx, execution.NotifyArgs{Event: event, RecipientID: recipient, EscrowID: &id, Data: data}); err != nil {
		return fmt.Errorf("enqueue %s: %w", event, err)
	}
	return nil
}

// creditRelease is the wallet side of any transition into RELEASED.
func (s *Service) creditRelease(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error {
	if _, err := s.ledger.CreditRelease(ctx, tx, e.PhotographerID, e.ID, e.PhotographerShare); err != nil {
		return fmt.Errorf("credit photographer: %w", err)
	}
	s.metrics.LedgerAmount(models.WalletEntryEscrowRelease, e.PhotographerShare)
	event := execution.EventDeliveryConfirmed
	if e.AutoReleased {
		event = execution.EventAutoReleased
	}
	return s.enqueue(ctx, tx, event, e.PhotographerID, e, map[string]any{"photographer_share": e.PhotographerShare})
}

// --- operations ---

type PurchaseInput struct {
	TransactionID  string    `json:"transaction_id"`
	PhotoID        uuid.UUID `json:"photo_id"`
	BuyerID        uuid.UUID `json:"buyer_id"`
	PhotographerID uuid.UUID `json:"photographer_id"`
	Amount         int64     `json:"amount"`
}

// Purchase opens the escrow entry for a settled payment. Calling it again
// with the same transaction id returns the existing entry. Free photos get a
// NOT_APPLICABLE entry with no wallet effect.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (*models.EscrowEntry, error) {
	in.TransactionID = strings.TrimSpace(in.TransactionID)
	if in.TransactionID == "" || in.PhotoID == uuid.Nil || in.BuyerID == uuid.Nil || in.PhotographerID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidInput, "transaction_id, photo_id, buyer_id and photographer_id are required")
	}
	if in.Amount < 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "amount must not be negative")
	}
	if existing, err := s.store.GetByTransactionID(ctx, in.TransactionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	fee := in.Amount * s.cfg.PlatformFeePercent / 100
	e := &models.EscrowEntry{
		ID:                uuid.New(),
		TransactionID:     in.TransactionID,
		PhotoID:           in.PhotoID,
		BuyerID:           in.BuyerID,
		PhotographerID:    in.PhotographerID,
		Status:            models.EscrowHeld,
		Amount:            in.Amount,
		PlatformFee:       fee,
		PhotographerShare: in.Amount - fee,
		MaxRevisions:      s.cfg.MaxRevisions,
		PurchasedAt:       now,
		UploadDeadline:    now.Add(s.cfg.UploadWindow),
	}
	if in.Amount == 0 {
		e.Status = models.EscrowNotApplicable
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Create(ctx, tx, e); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return s.store.GetByTransactionID(ctx, in.TransactionID)
		}
		return nil, fmt.Errorf("create escrow entry: %w", err)
	}
	if e.Status == models.EscrowHeld {
		if err := s.enqueue(ctx, tx, execution.EventHiResRequired, e.PhotographerID, e,
			map[string]any{"upload_deadline": e.UploadDeadline}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase: %w", err)
	}
	s.log.Info("escrow opened", "escrow_id", e.ID, "transaction_id", e.TransactionID, "status", e.Status)
	return e, nil
}

// Get returns the entry with its effective status. An auto-approval that has
// not been persisted yet is written (and the wallet credited) on this read.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if NeedsReconcile(e, s.now()) {
		e = s.reconcileOrKeep(ctx, e)
	}
	v := s.view(e, s.now())
	versions, err := s.versions.ListByEscrow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	v.Versions = versions
	return v, nil
}

// reconcileOrKeep persists a lazy auto-release. When that fails the derived
// view is still returned; the sweep retries later.
func (s *Service) reconcileOrKeep(ctx context.Context, e *models.EscrowEntry) *models.EscrowEntry {
	updated, err := s.reconcile(ctx, e.ID)
	if err != nil {
		s.log.Error("reconcile auto-release failed", "escrow_id", e.ID, "error", err)
		return e
	}
	return updated
}

func (s *Service) reconcile(ctx context.Context, id uuid.UUID) (*models.EscrowEntry, error) {
	return s.mutate(ctx, id, transition{
		name: "auto_release",
		apply: func(e *models.EscrowEntry, now time.Time) error {
			if !NeedsReconcile(e, now) {
				return errUnchanged
			}
			return s.policy.Release(e, now, true)
		},
		effects: s.creditRelease,
	})
}

// ReconcileOverdue persists every pending auto-approval, one batch per call.
func (s *Service) ReconcileOverdue(ctx context.Context) (int, error) {
	ids, err := s.store.ListOverdueConfirmations(ctx, s.now(), s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, id := range ids {
		e, err := s.reconcile(ctx, id)
		if err != nil {
			s.log.Error("auto-release failed", "escrow_id", id, "error", err)
			continue
		}
		if e.Status == models.EscrowReleased && e.AutoReleased {
			released++
		}
	}
	return released, nil
}

// UploadHiRes records a new delivery version and starts the buyer's
// confirmation window.
func (s *Service) UploadHiRes(ctx context.Context, id, photographerID uuid.UUID, up *delivery.Upload) (*View, error) {
	var version *models.DeliveryVersion
	e, err := s.mutate(ctx, id, transition{
		name: "upload_hires",
		apply: func(e *models.EscrowEntry, now time.Time) error {
			if e.PhotographerID != photographerID {
				return apperr.New(apperr.KindForbidden, "escrow %s belongs to another photographer", e.ID)
			}
			return s.policy.Upload(e, now)
		},
		effects: func(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error {
			version = &models.DeliveryVersion{
				ID:                uuid.New(),
				EscrowID:          e.ID,
				UploadedAt:        *e.DeliveredAt,
				FileRef:           up.FileRef,
				ContentType:       up.ContentType,
				Resolution:        up.Resolution,
				FileSizeMB:        up.FileSizeMB,
				PhotographerNotes: up.Notes,
			}
			if err := s.versions.Append(ctx, tx, version); err != nil {
				return fmt.Errorf("append delivery version: %w", err)
			}
			return s.enqueue(ctx, tx, execution.EventHiResDelivered, e.BuyerID, e, map[string]any{
				"version_number":        version.VersionNumber,
				"confirmation_deadline": e.ConfirmationDeadline,
			})
		},
	})
	if err != nil {
		return nil, err
	}
	v := s.view(e, s.now())
	v.Versions = []*models.DeliveryVersion{version}
	return v, nil
}

// ConfirmDelivery releases the escrow to the photographer. Confirming an entry
// that is already released (explicitly or by timeout) is a no-op.
func (s *Service) ConfirmDelivery(ctx context.Context, id, buyerID uuid.UUID) (*View, error) {
	e, err := s.mutate(ctx, id, transition{
		name: "confirm_delivery",
		apply: func(e *models.EscrowEntry, now time.Time) error {
			if e.BuyerID != buyerID {
				return apperr.New(apperr.KindForbidden, "escrow %s belongs to another buyer", e.ID)
			}
			if e.Status == models.EscrowReleased {
				return errUnchanged
			}
			return s.policy.Release(e, now, NeedsReconcile(e, now))
		},
		effects: s.creditRelease,
	})
	if err != nil {
		return nil, err
	}
	return s.view(e, s.now()), nil
}

// RequestRevision rejects the delivered file with a reason.
func (s *Service) RequestRevision(ctx context.Context, id, buyerID uuid.UUID, reason string) (*View, error) {
	e, err := s.mutate(ctx, id, transition{
		name: "request_revision",
		apply: func(e *models.EscrowEntry, now time.Time) error {
			if e.BuyerID != buyerID {
				return apperr.New(apperr.KindForbidden, "escrow %s belongs to another buyer", e.ID)
			}
			return s.policy.RequestRevision(e, now, reason)
		},
		effects: func(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error {
			return s.enqueue(ctx, tx, execution.EventRevisionRequested, e.PhotographerID, e, map[string]any{
				"reason":          e.RevisionReason,
				"revision_count":  e.RevisionCount,
				"upload_deadline": e.UploadDeadline,
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return s.view(e, s.now()), nil
}

// Refund is the admin dispute resolution for an entry that was never released.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, reason string) (*View, error) {
	e, err := s.mutate(ctx, id, transition{
		name: "refund",
		apply: func(e *models.EscrowEntry, now time.Time) error {
			return s.policy.Refund(e, now, reason)
		},
		effects: func(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error {
			if err := s.enqueue(ctx, tx, execution.EventRefunded, e.BuyerID, e, map[string]any{"amount": e.Amount}); err != nil {
				return err
			}
			return s.enqueue(ctx, tx, execution.EventRefunded, e.PhotographerID, e, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return s.view(e, s.now()), nil
}

// Chargeback reverses the photographer credit of a released entry after a
// post-release dispute. The entry stays RELEASED; the reversal lives only in
// the wallet ledger and can be applied once per entry.
func (s *Service) Chargeback(ctx context.Context, id uuid.UUID, note string) (*models.WalletEntry, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, apperr.New(apperr.KindMissingNote, "a chargeback note is required")
	}
	view, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e := view.EscrowEntry
	if e.Status != models.EscrowReleased {
		return nil, invalidState(e, view.EffectiveStatus, "charge back")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := s.ledger.ReverseRelease(ctx, tx, e.PhotographerID, e.ID, e.PhotographerShare, note)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, execution.EventChargeback, e.PhotographerID, e, map[string]any{"amount": e.PhotographerShare, "note": note}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chargeback: %w", err)
	}
	s.metrics.LedgerAmount(models.WalletEntryChargeback, e.PhotographerShare)
	s.log.Info("escrow chargeback", "escrow_id", e.ID, "amount", e.PhotographerShare)

	escrowID := e.ID
	return &models.WalletEntry{
		PhotographerID: e.PhotographerID,
		EntryType:      models.WalletEntryChargeback,
		Amount:         e.PhotographerShare,
		EscrowID:       &escrowID,
		BalanceAfter:   w.Balance,
		AvailableAfter: w.AvailableForWithdrawal,
		Note:           note,
	}, nil
}

// LatestDelivery returns the newest hi-res version, the one the buyer
// downloads. Only the parties and admins may see it, and nothing is served
// for a refunded entry.
func (s *Service) LatestDelivery(ctx context.Context, id, accountID uuid.UUID, admin bool) (*models.DeliveryVersion, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && accountID != e.BuyerID && accountID != e.PhotographerID {
		return nil, apperr.New(apperr.KindNotFound, "escrow %s not found", id)
	}
	if e.Status == models.EscrowRefunded {
		return nil, invalidState(e, e.Status, "download")
	}
	v, err := s.versions.Latest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	if v == nil {
		return nil, apperr.New(apperr.KindNotFound, "no hi-res delivered for escrow %s yet", id)
	}
	return v, nil
}

func (s *Service) views(ctx context.Context, entries []*models.EscrowEntry) []*View {
	now := s.now()
	out := make([]*View, 0, len(entries))
	for _, e := range entries {
		if NeedsReconcile(e, now) {
			e = s.reconcileOrKeep(ctx, e)
		}
		out = append(out, s.view(e, now))
	}
	return out
}

func (s *Service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]*View, error) {
	entries, err := s.store.ListByBuyer(ctx, buyerID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return s.views(ctx, entries), nil
}

// ListForPhotographer returns the photographer's entries, optionally filtered
// by stored status (the hi-res queue asks for HELD and REVISION_REQUESTED).
func (s *Service) ListForPhotographer(ctx context.Context, photographerID uuid.UUID, statuses []models.EscrowStatus, limit int) ([]*View, error) {
	entries, err := s.store.ListByPhotographer(ctx, photographerID, statuses, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return s.views(ctx, entries), nil
}

// openStatuses are the stored statuses an admin queue shows by default.
var openStatuses = []models.EscrowStatus{models.EscrowHeld, models.EscrowWaitingConfirmation, models.EscrowRevisionRequested}

// List is the admin view across all parties, by stored status. With no
// statuses it returns the open entries.
func (s *Service) List(ctx context.Context, statuses []models.EscrowStatus, limit int) ([]*View, error) {
	if len(statuses) == 0 {
		statuses = openStatuses
	}
	entries, err := s.store.ListByStatus(ctx, statuses, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return s.views(ctx, entries), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
