package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ambilfoto/backend/internal/delivery"
	"github.com/ambilfoto/backend/internal/middleware"
	"github.com/ambilfoto/backend/internal/models"
)

func newTestMux(t *testing.T, f *fixture) *http.ServeMux {
	t.Helper()
	v, err := delivery.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	h := NewHandler(f.svc, v, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /escrow/{id}", h.Get)
	mux.HandleFunc("GET /escrow/{id}/delivery", h.LatestDelivery)
	mux.HandleFunc("POST /escrow/{id}/hires", h.UploadHiRes)
	mux.HandleFunc("POST /escrow/{id}/revision", h.RequestRevision)
	return mux
}

func do(mux http.Handler, method, path, body string, p *middleware.Principal) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(middleware.WithPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Kind
}

func TestHandlerGetHidesForeignEntries(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)
	e := f.purchase(t, 50000)
	path := "/escrow/" + e.ID.String()

	rec := do(mux, http.MethodGet, path, "", &middleware.Principal{AccountID: e.BuyerID, Role: models.RoleBuyer})
	if rec.Code != http.StatusOK {
		t.Fatalf("buyer: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var v struct {
		Status      string `json:"status"`
		StatusLabel string `json:"status_label"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Status != string(models.EscrowHeld) || v.StatusLabel == "" {
		t.Errorf("unexpected body %+v", v)
	}

	rec = do(mux, http.MethodGet, path, "", &middleware.Principal{AccountID: uuid.New(), Role: models.RoleBuyer})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stranger: expected 404, got %d", rec.Code)
	}
	rec = do(mux, http.MethodGet, path, "", &middleware.Principal{AccountID: uuid.New(), Role: models.RoleAdmin})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
}

func TestHandlerUploadValidatesMetadata(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)
	e := f.purchase(t, 50000)
	path := "/escrow/" + e.ID.String() + "/hires"
	photographer := &middleware.Principal{AccountID: e.PhotographerID, Role: models.RolePhotographer}

	rec := do(mux, http.MethodPost, path, `{"file_ref":"s3://a.gif","content_type":"image/gif","file_size_mb":3}`, photographer)
	if rec.Code != http.StatusBadRequest || errorKind(t, rec) != "invalid_input" {
		t.Fatalf("expected 400 invalid_input, got %d", rec.Code)
	}

	rec = do(mux, http.MethodPost, path, `{"file_ref":"s3://a.jpg","content_type":"image/jpeg","file_size_mb":8.2,"resolution":"6000x4000"}`, photographer)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(mux, http.MethodPost, path, `{"file_ref":"s3://b.jpg","content_type":"image/jpeg","file_size_mb":8.2}`, photographer)
	if rec.Code != http.StatusConflict || errorKind(t, rec) != "invalid_state" {
		t.Fatalf("expected 409 invalid_state on second upload, got %d", rec.Code)
	}
}

func TestHandlerRevisionWithoutReason(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)
	e := f.purchase(t, 50000)
	f.upload(t, e)

	rec := do(mux, http.MethodPost, "/escrow/"+e.ID.String()+"/revision", `{}`,
		&middleware.Principal{AccountID: e.BuyerID, Role: models.RoleBuyer})
	if rec.Code != http.StatusBadRequest || errorKind(t, rec) != "missing_note" {
		t.Fatalf("expected 400 missing_note, got %d", rec.Code)
	}
}

func TestHandlerLatestDelivery(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)
	ctx := context.Background()
	e := f.purchase(t, 50000)
	path := "/escrow/" + e.ID.String() + "/delivery"
	buyer := &middleware.Principal{AccountID: e.BuyerID, Role: models.RoleBuyer}

	rec := do(mux, http.MethodGet, path, "", buyer)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("before upload: expected 404, got %d", rec.Code)
	}

	f.upload(t, e)
	if _, err := f.svc.RequestRevision(ctx, e.ID, e.BuyerID, "too dark"); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	f.upload(t, e)

	rec = do(mux, http.MethodGet, path, "", buyer)
	if rec.Code != http.StatusOK {
		t.Fatalf("buyer: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var v models.DeliveryVersion
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.VersionNumber != 2 {
		t.Errorf("expected the newest version 2, got %d", v.VersionNumber)
	}

	rec = do(mux, http.MethodGet, path, "", &middleware.Principal{AccountID: uuid.New(), Role: models.RoleBuyer})
	if rec.Code != http.StatusNotFound {
		t.Errorf("stranger: expected 404, got %d", rec.Code)
	}

	if _, err := f.svc.Refund(ctx, e.ID, "complaint upheld"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	rec = do(mux, http.MethodGet, path, "", buyer)
	if rec.Code != http.StatusConflict {
		t.Errorf("refunded: expected 409, got %d", rec.Code)
	}
}
