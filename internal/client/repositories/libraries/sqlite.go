package libraries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectLibrary = `SELECT id, type, name, can_edit, can_edit_files, metadata_version,
	v_collections, v_items, v_trash, v_searches, v_settings, v_deletions FROM libraries`

type scanner interface {
	Scan(dest ...any) error
}

func scanLibrary(s scanner) (*models.Library, error) {
	var l models.Library
	var typ string
	if err := s.Scan(&l.ID.ID, &typ, &l.Name, &l.CanEdit, &l.CanEditFiles, &l.MetadataVersion,
		&l.Versions.Collections, &l.Versions.Items, &l.Versions.Trash, &l.Versions.Searches,
		&l.Versions.Settings, &l.Versions.Deletions); err != nil {
		return nil, err
	}
	l.ID.Type = models.LibraryType(typ)
	return &l, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id models.LibraryID) (*models.Library, error) {
	row := r.db.QueryRowContext(ctx, selectLibrary+` WHERE type = ? AND id = ?`, string(id.Type), id.ID)
	l, err := scanLibrary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library %s: %w", id, err)
	}
	return l, nil
}

func (r *SQLiteRepository) All(ctx context.Context) ([]*models.Library, error) {
	rows, err := r.db.QueryContext(ctx, selectLibrary+` ORDER BY CASE type WHEN 'user' THEN 0 ELSE 1 END, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	var result []*models.Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, l *models.Library) error {
	query := `INSERT INTO libraries (type, id, name, can_edit, can_edit_files, metadata_version,
			v_collections, v_items, v_trash, v_searches, v_settings, v_deletions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET name = excluded.name,
			can_edit = excluded.can_edit,
			can_edit_files = excluded.can_edit_files,
			metadata_version = excluded.metadata_version,
			v_collections = excluded.v_collections,
			v_items = excluded.v_items,
			v_trash = excluded.v_trash,
			v_searches = excluded.v_searches,
			v_settings = excluded.v_settings,
			v_deletions = excluded.v_deletions`
	v := l.Versions
	_, err := r.db.ExecContext(ctx, query, string(l.ID.Type), l.ID.ID, l.Name, l.CanEdit, l.CanEditFiles,
		l.MetadataVersion, v.Collections, v.Items, v.Trash, v.Searches, v.Settings, v.Deletions)
	if err != nil {
		return fmt.Errorf("failed to upsert library %s: %w", l.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) SetVersions(ctx context.Context, id models.LibraryID, v models.Versions) error {
	res, err := r.db.ExecContext(ctx, `UPDATE libraries SET v_collections = ?, v_items = ?, v_trash = ?,
		v_searches = ?, v_settings = ?, v_deletions = ? WHERE type = ? AND id = ?`,
		v.Collections, v.Items, v.Trash, v.Searches, v.Settings, v.Deletions, string(id.Type), id.ID)
	if err != nil {
		return fmt.Errorf("failed to set versions of %s: %w", id, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id models.LibraryID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM libraries WHERE type = ? AND id = ?`, string(id.Type), id.ID)
	if err != nil {
		return fmt.Errorf("failed to delete library %s: %w", id, err)
	}
	return nil
}
