package migrations

import "embed"

// FS contains the embedded SQLite schema migrations for the board store.
//
//go:embed *.sql
var FS embed.FS
