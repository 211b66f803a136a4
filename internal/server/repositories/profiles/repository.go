// Package profiles stores user profiles behind credential-aware access
// checks. Every call names the Credential it runs with; the store decides
// which rows that credential may see or change.
package profiles

import (
	"context"

	"github.com/audithero/velro-backend-sub001/internal/server/models"
)

// Store is the backing store consumed by the profile accessor.
//
// Errors (match with errors.Is):
//   - common.ErrorNotFound: Select found no row visible to cred.
//   - common.ErrorUnauthorized: cred was rejected.
//   - common.ErrConflict: Insert found an existing row for the id.
//   - common.ErrPreconditionFailed: CompareAndSwapBalance matched no row.
//   - common.ErrBackendUnavailable: transient infrastructure failure.
type Store interface {
	Select(ctx context.Context, cred models.Credential, userID string) (*models.Profile, error)
	Insert(ctx context.Context, cred models.Credential, profile *models.Profile) (*models.Profile, error)
	// CompareAndSwapBalance sets the balance to next only if it currently
	// equals expected.
	CompareAndSwapBalance(ctx context.Context, cred models.Credential, userID string, expected, next int64) (*models.Profile, error)
}
