package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/libraries"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.Write(ctx, func(ctx context.Context, r Repositories) error {
		if err := r.Libraries.Upsert(ctx, &models.Library{ID: models.UserLibrary(1), CanEdit: true}); err != nil {
			return err
		}
		return r.Metadata.SetInt(ctx, metadata.KeyUserID, 1)
	})
	require.NoError(t, err)

	lib, err := s.Read().Libraries.Get(ctx, models.UserLibrary(1))
	require.NoError(t, err)
	assert.True(t, lib.CanEdit)
}

func TestWrite_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	boom := errors.New("boom")
	err = s.Write(ctx, func(ctx context.Context, r Repositories) error {
		require.NoError(t, r.Libraries.Upsert(ctx, &models.Library{ID: models.GroupLibrary(2)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Read().Libraries.Get(ctx, models.GroupLibrary(2))
	require.ErrorIs(t, err, libraries.ErrNotFound)
}
