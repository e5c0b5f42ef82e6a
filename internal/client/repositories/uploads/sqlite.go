package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectUpload = `SELECT task_id, kind, upload_key, mtime, library, key, user_id, remote_url,
	file_path, md5, old_md5, created_at FROM background_uploads`

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(s scanner) (*models.BackgroundUpload, error) {
	var (
		up      models.BackgroundUpload
		kind    string
		lib     string
		created int64
	)
	if err := s.Scan(&up.TaskID, &kind, &up.UploadKey, &up.Mtime, &lib, &up.Key, &up.UserID,
		&up.RemoteURL, &up.FilePath, &up.MD5, &up.OldMD5, &created); err != nil {
		return nil, err
	}
	id, err := models.ParseLibraryID(lib)
	if err != nil {
		return nil, err
	}
	up.Kind = models.UploadKind(kind)
	up.Library = id
	up.CreatedAt = time.Unix(0, created).UTC()
	return &up, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, up *models.BackgroundUpload) error {
	created := up.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO background_uploads (task_id, kind, upload_key, mtime,
			library, key, user_id, remote_url, file_path, md5, old_md5, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET kind = excluded.kind,
			upload_key = excluded.upload_key,
			mtime = excluded.mtime,
			library = excluded.library,
			key = excluded.key,
			user_id = excluded.user_id,
			remote_url = excluded.remote_url,
			file_path = excluded.file_path,
			md5 = excluded.md5,
			old_md5 = excluded.old_md5`,
		up.TaskID, string(up.Kind), up.UploadKey, up.Mtime, up.Library.String(), up.Key, up.UserID,
		up.RemoteURL, up.FilePath, up.MD5, up.OldMD5, created.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save background upload %s: %w", up.TaskID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, taskID string) (*models.BackgroundUpload, error) {
	up, err := scanUpload(r.db.QueryRowContext(ctx, selectUpload+` WHERE task_id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get background upload %s: %w", taskID, err)
	}
	return up, nil
}

func (r *SQLiteRepository) All(ctx context.Context) ([]*models.BackgroundUpload, error) {
	rows, err := r.db.QueryContext(ctx, selectUpload+` ORDER BY created_at, task_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list background uploads: %w", err)
	}
	defer rows.Close()

	var result []*models.BackgroundUpload
	for rows.Next() {
		up, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan background upload: %w", err)
		}
		result = append(result, up)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, taskID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM background_uploads WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete background upload %s: %w", taskID, err)
	}
	return nil
}
