package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ambilfoto/backend/internal/models"
)

// MemoryStore is an in-process Store used by tests and local tooling.
// It ignores the transaction argument.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.Wallet
	entries []*models.WalletEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[uuid.UUID]*models.Wallet)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) LockWallet(_ context.Context, _ pgx.Tx, photographerID uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[photographerID]
	if !ok {
		w = &models.Wallet{PhotographerID: photographerID}
		m.wallets[photographerID] = w
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) SaveWallet(_ context.Context, _ pgx.Tx, w *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wallets[w.PhotographerID] = &cp
	return nil
}

func (m *MemoryStore) InsertEntry(_ context.Context, _ pgx.Tx, e *models.WalletEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.EscrowID != nil {
		for _, existing := range m.entries {
			if existing.EscrowID != nil && *existing.EscrowID == *e.EscrowID && existing.EntryType == e.EntryType {
				return ErrDuplicateEntry
			}
		}
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryStore) HasEscrowEntry(_ context.Context, _ pgx.Tx, escrowID uuid.UUID, entryType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EscrowID != nil && *e.EscrowID == escrowID && e.EntryType == entryType {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetWallet(_ context.Context, photographerID uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[photographerID]
	if !ok {
		return &models.Wallet{PhotographerID: photographerID}, nil
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) ListEntries(_ context.Context, photographerID uuid.UUID, limit int) ([]*models.WalletEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WalletEntry
	for _, e := range m.entries {
		if e.PhotographerID == photographerID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
