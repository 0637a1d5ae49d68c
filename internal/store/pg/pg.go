// Package pg implements the storage interfaces on Postgres (managed mode).
// Rows keep the entity JSON in a data column with the filterable fields
// broken out; schema lives in migrations/ and is applied via the migrate
// command.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/WGwuzhi/midjourney-proxy/internal/store"
)

// OpenDB opens a pooled Postgres handle.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by Postgres.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Tasks:    NewTaskStore(db),
		Accounts: NewAccountStore(db),
		Dicts:    NewDictStore(db),
	}, nil
}
