// Package migrations embeds the goose SQL migration files for the
// Postgres datastore adapter.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
