package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Notification events. The notification service turns these into email and
// WhatsApp messages.
const (
	EventHiResRequired       = "escrow.hires_required"
	EventHiResDelivered      = "escrow.hires_delivered"
	EventDeliveryConfirmed   = "escrow.delivery_confirmed"
	EventAutoReleased        = "escrow.auto_released"
	EventRevisionRequested   = "escrow.revision_requested"
	EventRefunded            = "escrow.refunded"
	EventChargeback          = "escrow.chargeback"
	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalApproved  = "withdrawal.approved"
	EventWithdrawalRejected  = "withdrawal.rejected"
	EventWithdrawalPaid      = "withdrawal.paid"
	EventWithdrawalCancelled = "withdrawal.cancelled"
)

type NotifyArgs struct {
	Event        string         `json:"event"`
	RecipientID  uuid.UUID      `json:"recipient_id"`
	EscrowID     *uuid.UUID     `json:"escrow_id,omitempty"`
	WithdrawalID *uuid.UUID     `json:"withdrawal_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func (NotifyArgs) Kind() string { return "notify" }

// EnqueueNotifyFunc inserts a notify job inside the given transaction, so the
// notification only goes out if the transition commits. Provided by main using
// river.Client.InsertTx.
type EnqueueNotifyFunc func(ctx context.Context, tx pgx.Tx, args NotifyArgs) error

type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	webhookURL string
	httpClient *http.Client
	log        *slog.Logger
}

// NewNotifyWorker posts each event to webhookURL. With an empty URL events are
// only logged.
func NewNotifyWorker(webhookURL string, log *slog.Logger) *NotifyWorker {
	if log == nil {
		log = slog.Default()
	}
	return &NotifyWorker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	args := job.Args
	if w.webhookURL == "" {
		w.log.Info("notification (no webhook configured)", "event", args.Event, "recipient_id", args.RecipientID)
		return nil
	}

	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("notify-%d", job.ID))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling notification webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 4xx will not get better on retry.
		w.log.Warn("notification rejected", "event", args.Event, "status", resp.StatusCode)
		return nil
	}
	return nil
}
