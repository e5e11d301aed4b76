package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/middleware"
	"github.com/ambilfoto/backend/internal/models"
)

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AccountResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type LoginResponse struct {
	Token   string          `json:"token"`
	Account AccountResponse `json:"account"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
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
		h.log.Error("auth request failed", "path", r.URL.Path, "error", err)
	}
	apperr.WriteJSON(w, err)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v); err != nil {
		return apperr.New(apperr.KindInvalidInput, "invalid JSON")
	}
	return nil
}

// POST /api/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	acc, err := h.svc.Register(r.Context(), req.Email, req.Password, req.DisplayName, req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("account registered", "account_id", acc.ID, "role", acc.Role)
	writeJSON(w, http.StatusCreated, accountToResponse(acc))
}

// POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		h.fail(w, r, apperr.New(apperr.KindInvalidInput, "missing email or password"))
		return
	}
	token, acc, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Account: accountToResponse(acc)})
}

// GET /api/v1/account/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		h.fail(w, r, apperr.ErrUnauthorized)
		return
	}
	acc, err := h.svc.Account(r.Context(), p.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountToResponse(acc))
}

func accountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:          a.ID.String(),
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		CreatedAt:   a.CreatedAt,
	}
}
