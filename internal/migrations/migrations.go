// Package migrations содержит SQL-миграции схемы PostgreSQL.
package migrations

import "embed"

// FS содержит встроенные файлы миграций для golang-migrate.
//
//go:embed *.sql
var FS embed.FS
