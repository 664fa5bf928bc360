// Package migrations embeds the SQL schema files so the binary is
// self-contained and can run with any working directory.
package migrations

import "embed"

// FS contains the per-driver *.sql migration files embedded at compile time.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
