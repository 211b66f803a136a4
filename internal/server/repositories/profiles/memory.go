package profiles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/audithero/velro-backend-sub001/internal/common"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
)

// MemoryStore keeps profiles in process memory and applies the same row
// rule as the Postgres policies: the elevated tier sees every row, a
// user-scoped credential only the row whose id equals its subject.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*models.Profile
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*models.Profile), now: time.Now}
}

func (m *MemoryStore) visible(cred models.Credential, userID string) bool {
	switch cred.Tier {
	case models.TierElevated:
		return true
	case models.TierUserScoped:
		return cred.Subject != "" && cred.Subject == userID
	default:
		return false
	}
}

func (m *MemoryStore) Select(ctx context.Context, cred models.Credential, userID string) (*models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.rows[userID]
	if !ok || !m.visible(cred, userID) {
		return nil, common.ErrorNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) Insert(ctx context.Context, cred models.Credential, profile *models.Profile) (*models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.visible(cred, profile.ID) {
		return nil, fmt.Errorf("%w: row violates row-level policy", common.ErrorUnauthorized)
	}
	if profile.CreditsBalance < 0 {
		return nil, common.ErrInsufficientCredits
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[profile.ID]; ok {
		return nil, common.ErrConflict
	}

	row := profile.Clone()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.now()
	}
	m.rows[row.ID] = row
	return row.Clone(), nil
}

func (m *MemoryStore) CompareAndSwapBalance(ctx context.Context, cred models.Credential, userID string, expected, next int64) (*models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if next < 0 {
		return nil, common.ErrInsufficientCredits
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.rows[userID]
	if !ok || !m.visible(cred, userID) || p.CreditsBalance != expected {
		return nil, common.ErrPreconditionFailed
	}
	p.CreditsBalance = next
	return p.Clone(), nil
}
