package database

import (
	"database/sql"
	_ "embed"
	"log"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies the bootstrap schema. Every statement is
// IF NOT EXISTS so re-running at startup is harmless.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	log.Println("Database schema ensured")
	return nil
}
