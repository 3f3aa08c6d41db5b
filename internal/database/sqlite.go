package database

import (
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/migrator"
	"gorm.io/gorm/schema"
)

// exactSQLite declares decimal columns as TEXT. SQLite gives decimal(p,s)
// NUMERIC affinity and keeps only 15 significant digits of anything stored
// there, while a TEXT column round-trips decimal.Decimal's string form.
type exactSQLite struct {
	*sqlite.Dialector
}

func openSQLite(path string) gorm.Dialector {
	return exactSQLite{Dialector: &sqlite.Dialector{DSN: path}}
}

func (d exactSQLite) DataTypeOf(field *schema.Field) string {
	if strings.HasPrefix(strings.ToLower(string(field.DataType)), "decimal") {
		return "text"
	}
	return d.Dialector.DataTypeOf(field)
}

// Migrator routes column types through DataTypeOf above
func (d exactSQLite) Migrator(db *gorm.DB) gorm.Migrator {
	return sqlite.Migrator{Migrator: migrator.Migrator{Config: migrator.Config{
		DB:                          db,
		Dialector:                   d,
		CreateIndexAfterCreateTable: true,
	}}}
}
