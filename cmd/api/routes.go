package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ambilfoto/backend/internal/metrics"
)

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// registerRoutes mounts the API router plus the operational endpoints.
func registerRoutes(mux *http.ServeMux, api http.Handler, db pinger, m *metrics.Metrics) {
	mux.Handle("/api/", api)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", healthz(db))
}

func healthz(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status, code := "ok", http.StatusOK
		if err := db.Ping(ctx); err != nil {
			status, code = "database unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
