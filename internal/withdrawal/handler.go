package withdrawal

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/middleware"
	"github.com/ambilfoto/backend/internal/models"
)

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.HTTPStatus(err) == http.StatusInternalServerError {
		h.log.Error("withdrawal request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	apperr.WriteJSON(w, err)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return apperr.New(apperr.KindInvalidInput, "invalid JSON")
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindInvalidInput, "invalid withdrawal id")
	}
	return id, nil
}

// GET /api/v1/photographer/wallet
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	summary, err := h.svc.Wallet(r.Context(), p.AccountID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// POST /api/v1/photographer/withdrawals
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	var in RequestInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.PhotographerID = middleware.PrincipalFromCtx(r.Context()).AccountID
	req, err := h.svc.Request(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GET /api/v1/photographer/withdrawals
func (h *Handler) ListOwn(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.ListForPhotographer(r.Context(), p.AccountID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": list})
}

// POST /api/v1/photographer/withdrawals/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	req, err := h.svc.Cancel(r.Context(), id, p.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// GET /api/v1/admin/withdrawals?status=pending,approved
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var statuses []models.WithdrawalStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, models.WithdrawalStatus(strings.ToLower(strings.TrimSpace(s))))
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.List(r.Context(), statuses, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": list})
}

// POST /api/v1/admin/withdrawals/{id}/process
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in ProcessInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.svc.Process(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// GET /api/v1/admin/withdrawals/alerts
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Alerts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
