package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/audithero/velro-backend-sub001/internal/server/migrations"
	"github.com/audithero/velro-backend-sub001/internal/server/repositories/profiles"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends the PostgreSQL profile store and applies
// the embedded migrations.
type PostgresRepositoryManager struct {
	db       *sql.DB
	profiles *profiles.PostgresStore
}

// OpenPostgres opens a pgx-backed *sql.DB and checks that it answers.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// NewPostgresRepositoryManager wires a PostgresStore over db.
func NewPostgresRepositoryManager(db *sql.DB, roles profiles.Roles, jwtSecret []byte) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{
		db:       db,
		profiles: profiles.NewPostgresStore(db, roles, jwtSecret),
	}
}

func (m *PostgresRepositoryManager) Profiles() profiles.Store {
	return m.profiles
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations with goose.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}
