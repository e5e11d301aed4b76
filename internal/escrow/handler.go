package escrow

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/delivery"
	"github.com/ambilfoto/backend/internal/middleware"
	"github.com/ambilfoto/backend/internal/models"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc       *Service
	validator *delivery.Validator
	log       *slog.Logger
}

func NewHandler(svc *Service, validator *delivery.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

type reasonRequest struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.HTTPStatus(err) == http.StatusInternalServerError {
		h.log.Error("escrow request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	apperr.WriteJSON(w, err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindInvalidInput, "invalid escrow id")
	}
	return id, nil
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return apperr.New(apperr.KindInvalidInput, "invalid JSON")
	}
	return nil
}

// POST /api/v1/purchases
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var in PurchaseInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.svc.Purchase(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// GET /api/v1/escrow/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil || (p.Role != models.RoleAdmin && p.AccountID != v.BuyerID && p.AccountID != v.PhotographerID) {
		h.fail(w, r, apperr.New(apperr.KindNotFound, "escrow %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GET /api/v1/escrow/{id}/delivery
func (h *Handler) LatestDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		h.fail(w, r, apperr.ErrUnauthorized)
		return
	}
	v, err := h.svc.LatestDelivery(r.Context(), id, p.AccountID, p.Role == models.RoleAdmin)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GET /api/v1/buyer/purchases
func (h *Handler) ListForBuyer(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	list, err := h.svc.ListForBuyer(r.Context(), p.AccountID, queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": list})
}

// GET /api/v1/photographer/escrow?status=HELD,REVISION_REQUESTED
func (h *Handler) ListForPhotographer(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	list, err := h.svc.ListForPhotographer(r.Context(), p.AccountID, queryStatuses(r), queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": list})
}

// GET /api/v1/admin/escrow?status=WAITING_CONFIRMATION
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), queryStatuses(r), queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": list})
}

func queryStatuses(r *http.Request) []models.EscrowStatus {
	var statuses []models.EscrowStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.EscrowStatus(strings.ToUpper(s)))
			}
		}
	}
	return statuses
}

// POST /api/v1/escrow/{id}/hires
func (h *Handler) UploadHiRes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, apperr.New(apperr.KindInvalidInput, "failed to read body"))
		return
	}
	up, err := h.validator.Decode(raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	v, err := h.svc.UploadHiRes(r.Context(), id, p.AccountID, up)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// POST /api/v1/escrow/{id}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	v, err := h.svc.ConfirmDelivery(r.Context(), id, p.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/v1/escrow/{id}/revision
func (h *Handler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	v, err := h.svc.RequestRevision(r.Context(), id, p.AccountID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/v1/admin/escrow/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.svc.Refund(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/v1/admin/escrow/{id}/chargeback
func (h *Handler) Chargeback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.svc.Chargeback(r.Context(), id, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GET /api/v1/admin/sla/hires?days=30
func (h *Handler) SLAReport(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 || days > 365 {
		days = 30
	}
	report, err := h.svc.SLAReport(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
