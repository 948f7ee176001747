package migrations

import "embed"

// FS holds the schema migrations, one directory per database.
//
//go:embed claimsync/*.sql
var FS embed.FS
