// Package store implements the relational shadow state backing the
// emulated AWS resources: tags, elastic/private IP assignments, DNS
// zones and change log, machine images, launch templates, instances,
// and SSM documents/invocations, over a pure-Go sqlite driver.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tags (
	resource_name TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	key           TEXT NOT NULL,
	value         TEXT NOT NULL,
	UNIQUE(resource_name, resource_type, key)
);

CREATE TABLE IF NOT EXISTS ip_addresses (
	allocation_id  TEXT UNIQUE NOT NULL,
	ip_address     TEXT UNIQUE NOT NULL,
	association_id TEXT UNIQUE,
	instance_id    TEXT
);

CREATE TABLE IF NOT EXISTS private_ip_addresses (
	ip_address  TEXT UNIQUE NOT NULL,
	instance_id TEXT NOT NULL,
	interface   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dns_zones (
	id      TEXT UNIQUE NOT NULL,
	name    TEXT NOT NULL,
	comment TEXT
);

CREATE TABLE IF NOT EXISTS dns_changes (
	id           TEXT UNIQUE NOT NULL,
	submitted_at TEXT NOT NULL,
	comment      TEXT
);

CREATE TABLE IF NOT EXISTS machine_image (
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS launch_template (
	id       TEXT UNIQUE NOT NULL,
	name     TEXT NOT NULL,
	image_id TEXT NOT NULL,
	data     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS instance (
	id                TEXT UNIQUE NOT NULL,
	state             TEXT NOT NULL,
	availability_zone TEXT NOT NULL,
	subnet_id         TEXT NOT NULL,
	terminated_at     TEXT
);

CREATE TABLE IF NOT EXISTS ssm_documents (
	name    TEXT UNIQUE NOT NULL,
	content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ssm_command_invocations (
	command_id    TEXT NOT NULL,
	instance_id   TEXT NOT NULL,
	response_code INTEGER NOT NULL,
	stdout        TEXT NOT NULL,
	stderr        TEXT NOT NULL,
	UNIQUE(command_id, instance_id)
);
`

// Store wraps the single *sql.DB handle backing the shadow state. A single
// open connection (MaxOpenConns=1) is the whole concurrency story: SQLite
// serializes writers for us, which is also exactly the single-writer-lane
// guarantee the cooperative scheduler gave the original implementation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite file at path and applies the
// schema idempotently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic, matching spec.md §5's "DB writes for a single
// handler execute inside one transaction" guarantee.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DB exposes the underlying handle for packages that need read-only
// queries outside a transaction (e.g. Describe* handlers).
func (s *Store) DB() *sql.DB {
	return s.db
}
