// Package migrations embeds the versioned SQL schema applied by store.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
