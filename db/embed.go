// Package db embeds the versioned schema migrations.
package db

import "embed"

// Migrations holds the golang-migrate source files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS
