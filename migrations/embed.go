// Package migrations embeds the SQL schema migrations applied by
// `agenda-server migrate`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
