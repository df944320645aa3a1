// Package migrations embeds the SQL schema for the sqlite store.
package migrations

import "embed"

// FS holds the embedded migration files, applied in lexicographic order.
//
//go:embed *.sql
var FS embed.FS
