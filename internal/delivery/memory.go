package delivery

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ambilfoto/backend/internal/models"
)

// MemoryStore keeps versions in process. Used by tests.
type MemoryStore struct {
	mu       sync.Mutex
	versions map[uuid.UUID][]*models.DeliveryVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[uuid.UUID][]*models.DeliveryVersion)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Append(_ context.Context, _ pgx.Tx, v *models.DeliveryVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.VersionNumber = len(m.versions[v.EscrowID]) + 1
	cp := *v
	m.versions[v.EscrowID] = append(m.versions[v.EscrowID], &cp)
	return nil
}

func (m *MemoryStore) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]*models.DeliveryVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.DeliveryVersion, 0, len(m.versions[escrowID]))
	for _, v := range m.versions[escrowID] {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Latest(_ context.Context, escrowID uuid.UUID) (*models.DeliveryVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.versions[escrowID]
	if len(vs) == 0 {
		return nil, nil
	}
	cp := *vs[len(vs)-1]
	return &cp, nil
}
