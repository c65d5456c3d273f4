// Package migrations embeds the oplog SQLite schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
