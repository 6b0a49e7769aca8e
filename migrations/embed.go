// Package migrations встраивает SQL-схему сервиса в бинарник для goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
