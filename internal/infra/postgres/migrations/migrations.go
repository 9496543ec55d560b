// Package migrations holds the schema for quizzes and archived session
// reports. Each file registers one bun migration named after its prefix.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
