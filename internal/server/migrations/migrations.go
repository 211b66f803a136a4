// Package migrations embeds the goose SQL migrations for the profile store.
package migrations

import "embed"

// Role names created and granted by the embedded schema. Row-level policies
// exist only for these roles.
const (
	ServiceRole = "service_role"
	UserRole    = "authenticated"
)

//go:embed *.sql
var Migrations embed.FS
