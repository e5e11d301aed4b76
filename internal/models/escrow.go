package models

import (
	"time"

	"github.com/google/uuid"
)

type EscrowStatus string

const (
	EscrowHeld                EscrowStatus = "HELD"
	EscrowWaitingConfirmation EscrowStatus = "WAITING_CONFIRMATION"
	EscrowRevisionRequested   EscrowStatus = "REVISION_REQUESTED"
	EscrowReleased            EscrowStatus = "RELEASED"
	EscrowRefunded            EscrowStatus = "REFUNDED"
	EscrowNotApplicable       EscrowStatus = "NOT_APPLICABLE"
)

// Terminal reports whether no further transition is allowed.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowReleased || s == EscrowRefunded || s == EscrowNotApplicable
}

// EscrowEntry is the state record of one purchased photo. Version is the
// optimistic-lock counter bumped on every write.
type EscrowEntry struct {
	ID                   uuid.UUID    `json:"id"`
	TransactionID        string       `json:"transaction_id"`
	PhotoID              uuid.UUID    `json:"photo_id"`
	BuyerID              uuid.UUID    `json:"buyer_id"`
	PhotographerID       uuid.UUID    `json:"photographer_id"`
	Status               EscrowStatus `json:"status"`
	Amount               int64        `json:"amount"`
	PhotographerShare    int64        `json:"photographer_share"`
	PlatformFee          int64        `json:"platform_fee"`
	RevisionCount        int          `json:"revision_count"`
	MaxRevisions         int          `json:"max_revisions"`
	RevisionReason       string       `json:"revision_reason,omitempty"`
	RefundReason         string       `json:"refund_reason,omitempty"`
	PurchasedAt          time.Time    `json:"purchased_at"`
	UploadDeadline       time.Time    `json:"upload_deadline"`
	DeliveredAt          *time.Time   `json:"delivered_at,omitempty"`
	ConfirmationDeadline *time.Time   `json:"confirmation_deadline,omitempty"`
	ReleasedAt           *time.Time   `json:"released_at,omitempty"`
	RefundedAt           *time.Time   `json:"refunded_at,omitempty"`
	AutoReleased         bool         `json:"auto_released"`
	Version              int          `json:"-"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// DeliveryVersion is one hi-res upload attempt. Rows are never updated.
type DeliveryVersion struct {
	ID                uuid.UUID `json:"id"`
	EscrowID          uuid.UUID `json:"escrow_id"`
	VersionNumber     int       `json:"version_number"`
	UploadedAt        time.Time `json:"uploaded_at"`
	FileRef           string    `json:"file_ref"`
	ContentType       string    `json:"content_type"`
	Resolution        string    `json:"resolution"`
	FileSizeMB        float64   `json:"file_size_mb"`
	PhotographerNotes string    `json:"photographer_notes,omitempty"`
}
