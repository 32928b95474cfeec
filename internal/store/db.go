// Package store implements the Persona Store (C1) and Conversation Store
// (C2) over a relational database/sql backend, grounded on the teacher's
// database-driven persistence layer (pkg/agents/store.go's interface shape)
// but given a concrete mattn/go-sqlite3 implementation since spec.md §6
// only requires "the capability set described in §4.2 and §4.3", not a
// specific vendor.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/crypto"
)

// DB is the shared handle for the Persona Store and Conversation Store.
// Both stores are safe for concurrent access per spec.md §5 "Shared-resource
// policy"; writes are transactional per entity.
type DB struct {
	sql *sql.DB
	log zerolog.Logger
	box *crypto.KeyBox
}

// Open opens (creating if necessary) the SQLite database at dsn and applies
// the schema.
func Open(dsn string, box *crypto.KeyBox, log zerolog.Logger) (*DB, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	sqlDB, err := sql.Open("sqlite3", dsn+sep+"_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // SQLite: one writer; C6's per-session serialization keeps this from being a bottleneck.

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &DB{sql: sqlDB, log: log, box: box}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

// PersonaStore returns the C1 Persona Store view over this database.
func (d *DB) PersonaStore() *PersonaStore {
	return &PersonaStore{db: d.sql, box: d.box, log: d.log.With().Str("component", "persona_store").Logger()}
}

// ConversationStore returns the C2 Conversation Store view over this
// database.
func (d *DB) ConversationStore() *ConversationStore {
	return &ConversationStore{db: d.sql, log: d.log.With().Str("component", "conversation_store").Logger()}
}
