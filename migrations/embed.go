// Package migrations embeds the SQL schema applied at startup.
package migrations

import "embed"

// Files holds every *.sql migration in lexical order of application.
//
//go:embed *.sql
var Files embed.FS
