// Package migrations holds the registry schema.
package migrations

import "embed"

// FS contains the NNN_name.up.sql files applied in order by the SQLite store.
//
//go:embed *.sql
var FS embed.FS
