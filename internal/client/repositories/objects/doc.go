// Package objects provides the local persistence of synced records:
// collections, saved searches and items (trashed items included).
//
// # Data Model
//
// Each row is keyed by (library, key) and stores the server version, the
// sync state with its retry counter, the parent key, the locally changed
// field groups, a tombstone flag and the kind-specific payload as a
// models.Envelope. A few payload properties (trash flag, pending file
// upload, collection membership) are duplicated into columns so the sync
// engine can query them directly.
//
// # Concurrency
//
// Repositories are bound to a dbx.DBTX. Reads may use the shared *sql.DB;
// writes go through the store's single writer inside short transactions.
//
// Typical Usage
//
//	repo := objects.NewSQLiteRepository(tx)
//	_ = repo.Upsert(ctx, rec)
//	rec, _ := repo.Get(ctx, lib, "AAAAAAAA")
//	pending, _ := repo.Pending(ctx, lib)
package objects
