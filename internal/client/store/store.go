// Package store opens the local SQLite database and hands out repositories
// bound either to the shared handle (reads) or to a short write transaction
// serialized by a single writer.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/refsync/internal/client/migrations"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/libraries"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/objects"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/tags"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/uploads"
	"github.com/dmitrijs2005/refsync/internal/dbx"

	_ "modernc.org/sqlite"
)

// Repositories groups the repositories bound to one DBTX.
type Repositories struct {
	Libraries libraries.Repository
	Objects   objects.Repository
	Tags      tags.Repository
	Uploads   uploads.Repository
	Metadata  metadata.Repository
}

func newRepositories(db dbx.DBTX) Repositories {
	return Repositories{
		Libraries: libraries.NewSQLiteRepository(db),
		Objects:   objects.NewSQLiteRepository(db),
		Tags:      tags.NewSQLiteRepository(db),
		Uploads:   uploads.NewSQLiteRepository(db),
		Metadata:  metadata.NewSQLiteRepository(db),
	}
}

type Store struct {
	db     *sql.DB
	writer *dbx.Writer
	read   Repositories
}

// Open opens the database at dsn and applies migrations. The handle uses a
// single connection, so ":memory:" databases work as expected.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database and applies migrations.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	db.SetMaxOpenConns(1)
	if err := migrations.Run(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, writer: dbx.NewWriter(db), read: newRepositories(db)}, nil
}

// Read returns repositories bound to the shared handle. Do not use them
// inside Write.
func (s *Store) Read() Repositories {
	return s.read
}

// Write runs fn in one short transaction under the single-writer lock.
func (s *Store) Write(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, newRepositories(tx))
	})
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}
