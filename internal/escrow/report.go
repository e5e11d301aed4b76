package escrow

import (
	"context"
	"time"

	"github.com/ambilfoto/backend/internal/deadline"
	"github.com/ambilfoto/backend/internal/models"
)

// SLAReport summarises hi-res delivery performance for the admin console.
type SLAReport struct {
	Since            time.Time             `json:"since"`
	Total            int                   `json:"total"`
	AwaitingUpload   int                   `json:"awaiting_upload"`
	OverdueUploads   int                   `json:"overdue_uploads"`
	Delivered        int                   `json:"delivered"`
	DeliveredOnTime  int                   `json:"delivered_on_time"`
	DeliveredLate    int                   `json:"delivered_late"`
	OnTimeRate       float64               `json:"on_time_rate"`
	AvgDeliveryHours float64               `json:"avg_delivery_hours"`
	WithRevisions    int                   `json:"with_revisions"`
	AutoReleased     int                   `json:"auto_released"`
	Refunded         int                   `json:"refunded"`
	UploadTiers      map[deadline.Tier]int `json:"upload_tiers"`
}

// BuildSLAReport folds entries into an SLAReport. Delivery time is measured
// from purchase for entries that never needed a revision.
func BuildSLAReport(entries []*models.EscrowEntry, now, since time.Time, upload deadline.Policy) SLAReport {
	r := SLAReport{Since: since, UploadTiers: map[deadline.Tier]int{}}
	var firstDeliveries int
	var totalHours float64
	for _, e := range entries {
		r.Total++
		if e.RevisionCount > 0 {
			r.WithRevisions++
		}
		status, auto := Effective(e, now)
		if status == models.EscrowRefunded {
			r.Refunded++
		}
		if e.AutoReleased || auto {
			r.AutoReleased++
		}
		if status == models.EscrowHeld || status == models.EscrowRevisionRequested {
			r.AwaitingUpload++
			st := upload.Evaluate(now, e.UploadDeadline)
			r.UploadTiers[st.Tier]++
			if st.IsOverdue {
				r.OverdueUploads++
			}
			continue
		}
		if e.DeliveredAt == nil {
			continue
		}
		r.Delivered++
		if e.DeliveredAt.After(e.UploadDeadline) {
			r.DeliveredLate++
		} else {
			r.DeliveredOnTime++
		}
		if e.RevisionCount == 0 {
			firstDeliveries++
			totalHours += e.DeliveredAt.Sub(e.PurchasedAt).Hours()
		}
	}
	if r.Delivered > 0 {
		r.OnTimeRate = float64(r.DeliveredOnTime) / float64(r.Delivered)
	}
	if firstDeliveries > 0 {
		r.AvgDeliveryHours = totalHours / float64(firstDeliveries)
	}
	return r
}

// SLAReport covers every paid entry purchased in the last window.
func (s *Service) SLAReport(ctx context.Context, window time.Duration) (*SLAReport, error) {
	now := s.now()
	since := now.Add(-window)
	entries, err := s.store.ListPurchasedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	r := BuildSLAReport(entries, now, since, deadline.UploadSLA(s.cfg.UploadWindow))
	return &r, nil
}
