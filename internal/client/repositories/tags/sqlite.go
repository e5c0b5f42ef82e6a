package tags

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Ensure(ctx context.Context, lib models.LibraryID, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := r.db.ExecContext(ctx, `INSERT INTO tags (library, name, color) VALUES (?, ?, '')
			ON CONFLICT(library, name) DO NOTHING`, lib.String(), name)
		if err != nil {
			return fmt.Errorf("failed to insert tag %q: %w", name, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) SetColors(ctx context.Context, lib models.LibraryID, colors []models.TagColor) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE tags SET color = '' WHERE library = ?`, lib.String()); err != nil {
		return fmt.Errorf("failed to reset tag colors: %w", err)
	}
	for _, c := range colors {
		_, err := r.db.ExecContext(ctx, `INSERT INTO tags (library, name, color) VALUES (?, ?, ?)
			ON CONFLICT(library, name) DO UPDATE SET color = excluded.color`, lib.String(), c.Name, c.Color)
		if err != nil {
			return fmt.Errorf("failed to set color of tag %q: %w", c.Name, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, lib models.LibraryID, names []string) error {
	for _, name := range names {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE library = ? AND name = ?`, lib.String(), name); err != nil {
			return fmt.Errorf("failed to delete tag %q: %w", name, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) All(ctx context.Context, lib models.LibraryID) ([]models.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, color FROM tags WHERE library = ? ORDER BY name`, lib.String())
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()

	var result []models.Tag
	for rows.Next() {
		t := models.Tag{Library: lib}
		if err := rows.Scan(&t.Name, &t.Color); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteLibrary(ctx context.Context, lib models.LibraryID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE library = ?`, lib.String()); err != nil {
		return fmt.Errorf("failed to delete tags of %s: %w", lib, err)
	}
	return nil
}
