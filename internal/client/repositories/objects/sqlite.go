package objects

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectRecord = `SELECT library, key, kind, version, sync_state, retries, parent_key, changes,
	deleted, date_modified, payload FROM objects`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		rec      models.Record
		lib      string
		kind     string
		state    string
		modified int64
		payload  []byte
	)
	if err := s.Scan(&lib, &rec.Key, &kind, &rec.Version, &state, &rec.Retries, &rec.ParentKey,
		&rec.Changes, &rec.Deleted, &modified, &payload); err != nil {
		return nil, err
	}
	id, err := models.ParseLibraryID(lib)
	if err != nil {
		return nil, err
	}
	rec.Library = id
	rec.Kind = models.Kind(kind)
	rec.State = models.SyncState(state)
	if modified != 0 {
		rec.DateModified = time.Unix(0, modified).UTC()
	}

	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("record %s: decode envelope: %w", rec.Key, err)
	}
	if rec.Payload, err = env.Unwrap(); err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.Key, err)
	}
	return &rec, nil
}

func (r *SQLiteRepository) queryRecords(ctx context.Context, where string, args ...any) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx, selectRecord+" WHERE "+where+" ORDER BY date_modified, key", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, lib models.LibraryID, key string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx, selectRecord+` WHERE library = ? AND key = ?`, lib.String(), key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) GetMany(ctx context.Context, lib models.LibraryID, keys []string) (map[string]*models.Record, error) {
	result := make(map[string]*models.Record, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, lib.String())
	for _, k := range keys {
		args = append(args, k)
	}
	recs, err := r.queryRecords(ctx, "library = ? AND key IN ("+placeholders(len(keys))+")", args...)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		result[rec.Key] = rec
	}
	return result, nil
}

func (r *SQLiteRepository) ByKind(ctx context.Context, lib models.LibraryID, kind models.Kind) ([]*models.Record, error) {
	return r.queryRecords(ctx, "library = ? AND kind = ?", lib.String(), string(kind.Stored()))
}

func (r *SQLiteRepository) States(ctx context.Context, lib models.LibraryID, kind models.Kind) ([]models.LocalState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, version, sync_state, changes != 0 OR deleted != 0
		FROM objects WHERE library = ? AND kind = ?`, lib.String(), string(kind.Stored()))
	if err != nil {
		return nil, fmt.Errorf("failed to select states: %w", err)
	}
	defer rows.Close()

	var result []models.LocalState
	for rows.Next() {
		var st models.LocalState
		var state string
		if err := rows.Scan(&st.Key, &st.Version, &state, &st.Pending); err != nil {
			return nil, err
		}
		st.State = models.SyncState(state)
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Unsynced(ctx context.Context, lib models.LibraryID, kind models.Kind) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM objects WHERE library = ? AND kind = ?
		AND sync_state != ? AND changes = 0 AND deleted = 0 ORDER BY key`,
		lib.String(), string(kind.Stored()), string(models.SyncStateSynced))
	if err != nil {
		return nil, fmt.Errorf("failed to select unsynced: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *SQLiteRepository) Pending(ctx context.Context, lib models.LibraryID) ([]*models.Record, error) {
	return r.queryRecords(ctx, "library = ? AND (changes != 0 OR deleted != 0)", lib.String())
}

func (r *SQLiteRepository) PendingFiles(ctx context.Context, lib models.LibraryID) ([]*models.Record, error) {
	return r.queryRecords(ctx, "library = ? AND kind = ? AND file_changed != 0", lib.String(), string(models.KindItem))
}

func (r *SQLiteRepository) MemberItems(ctx context.Context, lib models.LibraryID, collectionKey string) ([]*models.Record, error) {
	return r.queryRecords(ctx, `library = ? AND kind = ?
		AND EXISTS (SELECT 1 FROM json_each(objects.collections) WHERE json_each.value = ?)`,
		lib.String(), string(models.KindItem), collectionKey)
}

func (r *SQLiteRepository) Children(ctx context.Context, lib models.LibraryID, parentKey string) ([]*models.Record, error) {
	return r.queryRecords(ctx, "library = ? AND parent_key = ?", lib.String(), parentKey)
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec *models.Record) error {
	if rec.Payload == nil {
		rec.Payload = models.EmptyPayload(rec.Kind)
	}
	env, err := models.Wrap(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to wrap payload of %s: %w", rec.Key, err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode payload of %s: %w", rec.Key, err)
	}

	var trash, fileChanged bool
	collections := "[]"
	if it := rec.Item(); it != nil {
		trash, fileChanged = it.Trash, it.FileChanged
		if len(it.Collections) > 0 {
			b, err := json.Marshal(it.Collections)
			if err != nil {
				return err
			}
			collections = string(b)
		}
	}
	state := rec.State
	if state == "" {
		state = models.SyncStateSynced
	}
	var modified int64
	if !rec.DateModified.IsZero() {
		modified = rec.DateModified.UnixNano()
	}

	query := `INSERT INTO objects (library, key, kind, version, sync_state, retries, parent_key, changes,
			deleted, trash, file_changed, collections, date_modified, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(library, key) DO UPDATE SET kind = excluded.kind,
			version = excluded.version,
			sync_state = excluded.sync_state,
			retries = excluded.retries,
			parent_key = excluded.parent_key,
			changes = excluded.changes,
			deleted = excluded.deleted,
			trash = excluded.trash,
			file_changed = excluded.file_changed,
			collections = excluded.collections,
			date_modified = excluded.date_modified,
			payload = excluded.payload`
	_, err = r.db.ExecContext(ctx, query, rec.Library.String(), rec.Key, string(rec.Kind.Stored()), rec.Version,
		string(state), rec.Retries, rec.ParentKey, uint32(rec.Changes), rec.Deleted, trash, fileChanged,
		collections, modified, payload)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.Key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, lib models.LibraryID, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM objects WHERE library = ? AND key = ?`, lib.String(), key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteLibrary(ctx context.Context, lib models.LibraryID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM objects WHERE library = ?`, lib.String()); err != nil {
		return fmt.Errorf("failed to delete records of %s: %w", lib, err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, lib models.LibraryID, kind models.Kind) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE library = ? AND kind = ?`,
		lib.String(), string(kind.Stored())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
