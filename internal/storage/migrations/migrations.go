// Package migrations embeds the goose SQL migrations for the chatline schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
