package profiles

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/audithero/velro-backend-sub001/internal/common"
	"github.com/audithero/velro-backend-sub001/internal/dbx"
	"github.com/audithero/velro-backend-sub001/internal/server/auth"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Roles names the database roles assumed for each credential tier.
type Roles struct {
	Service string
	User    string
}

// PostgresStore runs each call in its own short transaction under the role
// of the credential's tier. User-scoped transactions also carry the token
// subject in the settings read by the row-level policies.
type PostgresStore struct {
	db        *sql.DB
	roles     Roles
	jwtSecret []byte
	now       func() time.Time
}

// NewPostgresStore constructs a store over db. When jwtSecret is non-empty,
// user tokens must carry a valid HS256 signature or they are rejected as
// unauthorized.
func NewPostgresStore(db *sql.DB, roles Roles, jwtSecret []byte) *PostgresStore {
	return &PostgresStore{db: db, roles: roles, jwtSecret: jwtSecret, now: time.Now}
}

const profileColumns = `id, credits_balance, role, created_at`

func (r *PostgresStore) Select(ctx context.Context, cred models.Credential, userID string) (*models.Profile, error) {
	query :=
		`SELECT ` + profileColumns + ` FROM profiles
		 WHERE id = $1
		 `

	return r.scoped(ctx, cred, func(ctx context.Context, tx dbx.DBTX) (*models.Profile, error) {
		p, err := scanProfile(tx.QueryRowContext(ctx, query, userID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, common.ErrorNotFound
			}
			return nil, classify(err)
		}
		return p, nil
	})
}

func (r *PostgresStore) Insert(ctx context.Context, cred models.Credential, profile *models.Profile) (*models.Profile, error) {
	query :=
		`INSERT INTO profiles (id, credits_balance, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING ` + profileColumns + `
		 `

	return r.scoped(ctx, cred, func(ctx context.Context, tx dbx.DBTX) (*models.Profile, error) {
		p, err := scanProfile(tx.QueryRowContext(ctx, query, profile.ID, profile.CreditsBalance, string(profile.Role)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, common.ErrConflict
			}
			return nil, classify(err)
		}
		return p, nil
	})
}

func (r *PostgresStore) CompareAndSwapBalance(ctx context.Context, cred models.Credential, userID string, expected, next int64) (*models.Profile, error) {
	query :=
		`UPDATE profiles SET credits_balance = $3
		 WHERE id = $1 AND credits_balance = $2
		 RETURNING ` + profileColumns + `
		 `

	return r.scoped(ctx, cred, func(ctx context.Context, tx dbx.DBTX) (*models.Profile, error) {
		p, err := scanProfile(tx.QueryRowContext(ctx, query, userID, expected, next))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, common.ErrPreconditionFailed
			}
			return nil, classify(err)
		}
		return p, nil
	})
}

// userSession is what a user-scoped transaction exposes to row-level policies.
type userSession struct {
	subject string
	claims  []byte
}

// scoped runs fn in a transaction that has assumed cred's role.
func (r *PostgresStore) scoped(ctx context.Context, cred models.Credential, fn func(ctx context.Context, tx dbx.DBTX) (*models.Profile, error)) (*models.Profile, error) {
	session, err := r.session(cred)
	if err != nil {
		return nil, err
	}

	p, err := dbx.InTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Profile, error) {
		if err := r.assume(ctx, tx, cred.Tier, session); err != nil {
			return nil, err
		}
		return fn(ctx, tx)
	})
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

// session returns nil for the elevated tier.
func (r *PostgresStore) session(cred models.Credential) (*userSession, error) {
	switch cred.Tier {
	case models.TierElevated:
		return nil, nil
	case models.TierUserScoped:
	default:
		return nil, fmt.Errorf("%w: unknown credential tier %q", common.ErrorUnauthorized, cred.Tier)
	}

	subject := cred.Subject
	if len(r.jwtSecret) > 0 {
		sub, err := auth.VerifyToken(cred.Token, r.jwtSecret, r.now())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
		}
		subject = sub
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", common.ErrorUnauthorized)
	}

	claims, err := json.Marshal(map[string]string{"sub": subject, "role": r.roles.User})
	if err != nil {
		return nil, err
	}
	return &userSession{subject: subject, claims: claims}, nil
}

func (r *PostgresStore) assume(ctx context.Context, tx dbx.DBTX, tier models.Tier, session *userSession) error {
	role := r.roles.Service
	if tier == models.TierUserScoped {
		role = r.roles.User
	}

	if _, err := tx.ExecContext(ctx, `SET LOCAL ROLE `+pgx.Identifier{role}.Sanitize()); err != nil {
		if c := classify(err); errors.Is(c, common.ErrBackendUnavailable) {
			return c
		}
		return fmt.Errorf("%w: assume role %s: %v", common.ErrorUnauthorized, role, err)
	}

	if session == nil {
		return nil
	}

	_, err := tx.ExecContext(ctx,
		`SELECT set_config($1, $2, true), set_config($3, $4, true)`,
		common.JWTClaimsSetting, string(session.claims), common.JWTSubjectSetting, session.subject)
	if err != nil {
		return classify(err)
	}
	return nil
}

func scanProfile(row *sql.Row) (*models.Profile, error) {
	p := &models.Profile{}
	var role string
	if err := row.Scan(&p.ID, &p.CreditsBalance, &role, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	return p, nil
}

// classify maps driver errors onto the store's sentinel errors. Errors that
// already carry a sentinel pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		common.ErrorNotFound, common.ErrorUnauthorized, common.ErrConflict,
		common.ErrPreconditionFailed, common.ErrBackendUnavailable, common.ErrInsufficientCredits,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501", pgErr.Code == "28000", pgErr.Code == "28P01":
			return fmt.Errorf("db error: %w: %w", common.ErrorUnauthorized, err)
		case pgErr.Code == "23505":
			return fmt.Errorf("db error: %w: %w", common.ErrConflict, err)
		case pgErr.Code == "23514":
			return fmt.Errorf("db error: %w: %w", common.ErrInsufficientCredits, err)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "53300",
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return fmt.Errorf("db error: %w: %w", common.ErrBackendUnavailable, err)
		}
		return fmt.Errorf("db error: %w", err)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) ||
		pgconn.Timeout(err) || errors.As(err, &connectErr) || errors.As(err, &netErr) {
		return fmt.Errorf("db error: %w: %w", common.ErrBackendUnavailable, err)
	}

	return fmt.Errorf("db error: %w", err)
}
