// Package repomanager selects the profile store backend and owns its
// lifecycle: schema migrations and closing connections.
package repomanager

import (
	"context"

	"github.com/audithero/velro-backend-sub001/internal/server/repositories/profiles"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Profiles() profiles.Store
	Close() error
}
