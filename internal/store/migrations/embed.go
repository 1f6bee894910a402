// Package migrations embeds the dev server schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
