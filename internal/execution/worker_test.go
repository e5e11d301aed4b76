package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

func notifyJob(args NotifyArgs) *river.Job[NotifyArgs] {
	return &river.Job[NotifyArgs]{JobRow: &rivertype.JobRow{ID: 42}, Args: args}
}

func TestNotifyWorkerPostsEvent(t *testing.T) {
	var got NotifyArgs
	var idemKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idemKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	escrowID := uuid.New()
	args := NotifyArgs{Event: EventHiResDelivered, RecipientID: uuid.New(), EscrowID: &escrowID}
	if err := NewNotifyWorker(srv.URL, nil).Work(context.Background(), notifyJob(args)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if got.Event != EventHiResDelivered || got.EscrowID == nil || *got.EscrowID != escrowID {
		t.Errorf("webhook received %+v", got)
	}
	if idemKey != "notify-42" {
		t.Errorf("idempotency key: got %q", idemKey)
	}
}

func TestNotifyWorkerRetriesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewNotifyWorker(srv.URL, nil).Work(context.Background(), notifyJob(NotifyArgs{Event: EventWithdrawalPaid}))
	if err == nil {
		t.Fatal("5xx should return an error so river retries")
	}
}

func TestNotifyWorkerDropsClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	if err := NewNotifyWorker(srv.URL, nil).Work(context.Background(), notifyJob(NotifyArgs{Event: EventRefunded})); err != nil {
		t.Fatalf("4xx should not be retried, got %v", err)
	}
}

type stubReconciler struct {
	n   int
	err error
}

func (s *stubReconciler) ReconcileOverdue(context.Context) (int, error) { return s.n, s.err }

func TestAutoReleaseWorker(t *testing.T) {
	job := &river.Job[AutoReleaseArgs]{JobRow: &rivertype.JobRow{ID: 1}}
	if err := NewAutoReleaseWorker(&stubReconciler{n: 3}, nil).Work(context.Background(), job); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if err := NewAutoReleaseWorker(&stubReconciler{err: errors.New("db down")}, nil).Work(context.Background(), job); err == nil {
		t.Fatal("expected error to propagate")
	}
}
