// Package database implements the Registry (C2): persistent metadata for
// owners, users, memberships, projects, API tokens, builds, and domain
// routes, backed by PostgreSQL.
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/jordanhubbard/portway/internal/apierr"
)

// Database is the Registry's connection to PostgreSQL.
type Database struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx, so the row-level
// helpers in this package (createProjectTx, insertTokenTx, ...) can run
// either standalone or as part of a caller-managed transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

var _ execer = (*sql.DB)(nil)
var _ execer = (*sql.Tx)(nil)

// WithTx runs fn inside a new transaction, committing on a nil return
// and rolling back otherwise (including on panic, which is re-raised
// after rollback). Used for every Registry operation that spec.md §4.2
// requires to be atomic across more than one row.
func (d *Database) WithTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.db.Begin()
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// Open connects to the PostgreSQL instance at dsn, configures the
// connection pool, and ensures the schema exists.
func Open(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	if maxIdleConns <= 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	d := &Database{db: db}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB, for callers (e.g. the log manager)
// that need to run ad-hoc queries outside this package's helpers.
func (d *Database) DB() *sql.DB {
	return d.db
}
