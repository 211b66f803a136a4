// Package server wires the profile accessor to its storage backend and
// manages the process lifecycle: startup, migrations and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audithero/velro-backend-sub001/internal/common"
	"github.com/audithero/velro-backend-sub001/internal/logging"
	"github.com/audithero/velro-backend-sub001/internal/server/config"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
	"github.com/audithero/velro-backend-sub001/internal/server/repositories/profiles"
	"github.com/audithero/velro-backend-sub001/internal/server/repositories/repomanager"
	"github.com/audithero/velro-backend-sub001/internal/server/services"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	repos    repomanager.RepositoryManager
	accessor *services.ProfileAccessor
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, logging.NewJSONLogger(os.Stdout, slog.LevelInfo))
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	rm, err := openRepositories(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if c.RunMigrations {
		if err := rm.RunMigrations(ctx); err != nil {
			_ = rm.Close()
			return nil, err
		}
	}

	accessor := services.NewProfileAccessor(rm.Profiles(), models.ElevatedCredential(), services.SystemClock(), logger, c)

	return &App{config: c, logger: logger, repos: rm, accessor: accessor}, nil
}

func openRepositories(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	if c.DatabaseDSN == common.MemoryDSN {
		return repomanager.NewMemoryRepositoryManager(), nil
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	var secret []byte
	if c.JWTSecret != "" {
		secret = []byte(c.JWTSecret)
	}
	roles := profiles.Roles{Service: c.ServiceRole, User: c.UserRole}
	return repomanager.NewPostgresRepositoryManager(db, roles, secret), nil
}

// Accessor returns the profile accessor for the request layer.
func (app *App) Accessor() *services.ProfileAccessor {
	return app.accessor
}

// Run blocks until ctx is cancelled or the process receives SIGINT, SIGTERM
// or SIGQUIT, then releases the database.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	backend := "postgres"
	if app.config.DatabaseDSN == common.MemoryDSN {
		backend = common.MemoryDSN
	}
	app.logger.Info(ctx, "Starting app...", "backend", backend,
		"default_credits_balance", app.config.DefaultCreditsBalance, "tier_timeout", app.config.TierTimeout)

	<-ctx.Done()

	app.logger.Info(context.WithoutCancel(ctx), "Shutting down...")
	return app.Close()
}

func (app *App) Close() error {
	return app.repos.Close()
}
