// Package migrations embeds the schema. The SQL is kept portable between PostgreSQL and SQLite:
// money is BIGINT minor units, timestamps are BIGINT unix millis, ids are TEXT uuids.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
