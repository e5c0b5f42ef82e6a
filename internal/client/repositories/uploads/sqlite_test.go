package uploads

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/migrations"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Run(context.Background(), db))
	return db
}

func TestSaveGetAllDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	up := &models.BackgroundUpload{
		TaskID:     "task-1",
		Kind:       models.UploadKindWebDAV,
		Mtime:      1700000000000,
		AuthToken:  "Basic c2VjcmV0",
		Library:    models.GroupLibrary(4),
		Key:        "AAAAAAAA",
		UserID:     12,
		RemoteURL:  "https://dav.example.org/zotero/AAAAAAAA.zip",
		FilePath:   "groups/4/AAAAAAAA/.upload.zip",
		MD5:        "abc",
		CreatedAt:  created,
		Completion: func(error) {},
	}
	require.NoError(t, r.Save(ctx, up))
	require.NoError(t, r.Save(ctx, &models.BackgroundUpload{TaskID: "task-2", Kind: models.UploadKindDirect,
		UploadKey: "ticket", Library: models.UserLibrary(12), Key: "BBBBBBBB", CreatedAt: created.Add(time.Minute)}))

	got, err := r.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, got.AuthToken, "auth token must not be persisted")
	assert.Nil(t, got.Completion)
	assert.Equal(t, models.UploadKindWebDAV, got.Kind)
	assert.Equal(t, up.Mtime, got.Mtime)
	assert.Equal(t, up.Library, got.Library)
	assert.Equal(t, up.RemoteURL, got.RemoteURL)
	assert.Equal(t, created, got.CreatedAt)

	all, err := r.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "task-1", all[0].TaskID)
	assert.Equal(t, "ticket", all[1].UploadKey)

	require.NoError(t, r.Delete(ctx, "task-1"))
	_, err = r.Get(ctx, "task-1")
	require.ErrorIs(t, err, ErrNotFound)
}
