package config

import (
	"flag"

	"github.com/audithero/velro-backend-sub001/internal/flagx"
)

// parseFlags overlays Config fields from command-line flags.
//
// Supported flags:
//
//	-d string     database DSN ("memory" for the in-process store)
//	-sr string    elevated (service) database role
//	-ur string    user-scoped database role
//	-s string     JWT HMAC secret
//	-b int        default credits balance for new profiles
//	-role string  default role for new profiles
//	-t duration   per-tier timeout (e.g. "5s")
//	-r uint       compare-and-swap retries for balance updates
//	-m bool       run migrations on startup (use -m=false to disable)
//
// args are filtered first so flags owned by other components do not collide.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-d", "-sr", "-ur", "-s", "-b", "-role", "-t", "-r", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.ServiceRole, "sr", config.ServiceRole, "elevated database role")
	fs.StringVar(&config.UserRole, "ur", config.UserRole, "user-scoped database role")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "JWT secret")
	fs.Int64Var(&config.DefaultCreditsBalance, "b", config.DefaultCreditsBalance, "default credits balance")
	fs.StringVar(&config.DefaultRole, "role", config.DefaultRole, "default profile role")
	fs.DurationVar(&config.TierTimeout, "t", config.TierTimeout, "per-tier timeout")
	fs.Uint64Var(&config.BalanceUpdateRetries, "r", config.BalanceUpdateRetries, "balance update retries")
	fs.BoolVar(&config.RunMigrations, "m", config.RunMigrations, "run migrations")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
