package config

import (
	"encoding/json"
	"os"

	"github.com/audithero/velro-backend-sub001/internal/flagx"
	"github.com/audithero/velro-backend-sub001/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Only fields
// present in the file override the current values, so pointers are used to
// tell "absent" from "zero".
type JsonConfig struct {
	DatabaseDSN           *string         `json:"database_dsn"`
	ServiceRole           *string         `json:"service_role"`
	UserRole              *string         `json:"user_role"`
	JWTSecret             *string         `json:"jwt_secret"`
	DefaultCreditsBalance *int64          `json:"default_credits_balance"`
	DefaultRole           *string         `json:"default_role"`
	TierTimeout           *timex.Duration `json:"tier_timeout"`
	BalanceUpdateRetries  *uint64         `json:"balance_update_retries"`
	RunMigrations         *bool           `json:"run_migrations"`
}

// parseJson overlays values from the file named by -c / -config. Without
// the flag nothing happens. An unreadable or malformed file panics.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.ServiceRole != nil {
		config.ServiceRole = *c.ServiceRole
	}
	if c.UserRole != nil {
		config.UserRole = *c.UserRole
	}
	if c.JWTSecret != nil {
		config.JWTSecret = *c.JWTSecret
	}
	if c.DefaultCreditsBalance != nil {
		config.DefaultCreditsBalance = *c.DefaultCreditsBalance
	}
	if c.DefaultRole != nil {
		config.DefaultRole = *c.DefaultRole
	}
	if c.TierTimeout != nil {
		config.TierTimeout = c.TierTimeout.Duration
	}
	if c.BalanceUpdateRetries != nil {
		config.BalanceUpdateRetries = *c.BalanceUpdateRetries
	}
	if c.RunMigrations != nil {
		config.RunMigrations = *c.RunMigrations
	}
}
