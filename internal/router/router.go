// Package router assembles the /api/v1 surface: authentication, role checks
// and rate limiting in front of the escrow, withdrawal and account handlers.
package router

import (
	"net/http"

	"github.com/ambilfoto/backend/internal/auth"
	"github.com/ambilfoto/backend/internal/escrow"
	"github.com/ambilfoto/backend/internal/middleware"
	"github.com/ambilfoto/backend/internal/models"
	"github.com/ambilfoto/backend/internal/withdrawal"
)

type Handlers struct {
	Auth       *auth.Handler
	Escrow     *escrow.Handler
	Withdrawal *withdrawal.Handler
}

// New returns an http.Handler that serves the API under /api/v1. limiter may
// be nil.
func New(h Handlers, tokens middleware.TokenValidator, limiter *middleware.RateLimiter) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	limit := func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return limiter.Middleware(next)
	}
	authed := middleware.BearerAuth(tokens)
	// as wraps fn with bearer auth, the listed roles and the rate limiter.
	as := func(fn http.HandlerFunc, roles ...string) http.Handler {
		return authed(middleware.RequireRole(roles...)(limit(fn)))
	}

	mux.Handle("POST "+base+"/auth/register", limit(http.HandlerFunc(h.Auth.Register)))
	mux.Handle("POST "+base+"/auth/login", limit(http.HandlerFunc(h.Auth.Login)))
	mux.Handle("GET "+base+"/account/me", as(h.Auth.Me, models.RoleBuyer, models.RolePhotographer, models.RoleAdmin))

	// Escrow
	mux.Handle("POST "+base+"/purchases", as(h.Escrow.Purchase, models.RoleAdmin, models.RoleSystem))
	mux.Handle("GET "+base+"/escrow/{id}", as(h.Escrow.Get, models.RoleBuyer, models.RolePhotographer, models.RoleAdmin))
	mux.Handle("GET "+base+"/escrow/{id}/delivery", as(h.Escrow.LatestDelivery, models.RoleBuyer, models.RolePhotographer, models.RoleAdmin))
	mux.Handle("GET "+base+"/buyer/purchases", as(h.Escrow.ListForBuyer, models.RoleBuyer))
	mux.Handle("GET "+base+"/photographer/escrow", as(h.Escrow.ListForPhotographer, models.RolePhotographer))
	mux.Handle("POST "+base+"/escrow/{id}/hires", as(h.Escrow.UploadHiRes, models.RolePhotographer))
	mux.Handle("POST "+base+"/escrow/{id}/confirm", as(h.Escrow.Confirm, models.RoleBuyer))
	mux.Handle("POST "+base+"/escrow/{id}/revision", as(h.Escrow.RequestRevision, models.RoleBuyer))
	mux.Handle("GET "+base+"/admin/escrow", as(h.Escrow.List, models.RoleAdmin))
	mux.Handle("POST "+base+"/admin/escrow/{id}/refund", as(h.Escrow.Refund, models.RoleAdmin))
	mux.Handle("POST "+base+"/admin/escrow/{id}/chargeback", as(h.Escrow.Chargeback, models.RoleAdmin))
	mux.Handle("GET "+base+"/admin/sla/hires", as(h.Escrow.SLAReport, models.RoleAdmin))

	// Wallet and withdrawals
	mux.Handle("GET "+base+"/photographer/wallet", as(h.Withdrawal.Wallet, models.RolePhotographer))
	mux.Handle("POST "+base+"/photographer/withdrawals", as(h.Withdrawal.Request, models.RolePhotographer))
	mux.Handle("GET "+base+"/photographer/withdrawals", as(h.Withdrawal.ListOwn, models.RolePhotographer))
	mux.Handle("POST "+base+"/photographer/withdrawals/{id}/cancel", as(h.Withdrawal.Cancel, models.RolePhotographer))
	mux.Handle("GET "+base+"/admin/withdrawals", as(h.Withdrawal.List, models.RoleAdmin))
	mux.Handle("GET "+base+"/admin/withdrawals/alerts", as(h.Withdrawal.Alerts, models.RoleAdmin))
	mux.Handle("POST "+base+"/admin/withdrawals/{id}/process", as(h.Withdrawal.Process, models.RoleAdmin))

	return mux
}
