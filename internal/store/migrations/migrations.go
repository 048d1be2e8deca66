// Package migrations embeds the SQL schema of the development server.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
