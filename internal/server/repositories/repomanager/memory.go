package repomanager

import (
	"context"

	"github.com/audithero/velro-backend-sub001/internal/server/repositories/profiles"
)

// MemoryRepositoryManager backs the accessor with an in-process store. It
// has no schema and nothing to close.
type MemoryRepositoryManager struct {
	profiles *profiles.MemoryStore
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{profiles: profiles.NewMemoryStore()}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) Profiles() profiles.Store { return m.profiles }

func (m *MemoryRepositoryManager) Close() error { return nil }
