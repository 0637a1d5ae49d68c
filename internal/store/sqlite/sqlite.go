// Package sqlite implements the storage interfaces on an embedded SQLite
// file (standalone mode). The row layout matches the Postgres backend and
// SQLite accepts the same $n placeholders and upsert form, so the store
// implementations are shared; only opening and schema setup differ. The
// schema is applied inline here because standalone mode has no migrate step.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/store/pg"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	parent_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	instance_id TEXT NOT NULL DEFAULT '',
	submit_time INTEGER NOT NULL DEFAULT 0,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
CREATE INDEX IF NOT EXISTS idx_tasks_instance ON tasks (instance_id);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_id);

CREATE TABLE IF NOT EXISTS accounts (
	channel_id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS domain_keywords (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS banned_keywords (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
`

// Open opens (and initializes) the database file.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The driver serializes writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one SQLite file.
func NewStores(path string) (*store.Stores, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Tasks:    pg.NewTaskStore(db),
		Accounts: pg.NewAccountStore(db),
		Dicts:    pg.NewDictStore(db),
	}, nil
}
