package attachments

import (
	"testing"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_Rename(t *testing.T) {
	s := newMemStorage()
	require.NoError(t, s.WriteFile(s.Path(lib, "AAAAAAAA", "a.txt"), []byte("hello")))

	require.NoError(t, s.Rename(lib, "AAAAAAAA", "a.txt", "b.txt"))
	assert.False(t, s.Exists(s.Path(lib, "AAAAAAAA", "a.txt")))
	got, err := s.ReadFile(s.Path(lib, "AAAAAAAA", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	// never downloaded: nothing to move
	require.NoError(t, s.Rename(lib, "BBBBBBBB", "x.pdf", "y.pdf"))
	require.NoError(t, s.Rename(lib, "AAAAAAAA", "b.txt", "b.txt"))
}

func TestStorage_MissingFiles(t *testing.T) {
	s := newMemStorage()
	_, err := s.Open(s.Path(lib, "K", "nope"))
	require.ErrorIs(t, err, ErrFileNotFound)
	_, err = s.Stat(s.Path(lib, "K", "nope"))
	require.ErrorIs(t, err, ErrFileNotFound)
	require.NoError(t, s.Remove(s.Path(lib, "K", "nope")))
	assert.Equal(t, "users/1/K/a.pdf", s.Path(lib, "K", "a.pdf"))
}

func TestUploader_Prepare(t *testing.T) {
	s := newMemStorage()
	require.NoError(t, s.WriteFile(s.Path(lib, "FILE0001", "notes.txt"), []byte("test string")))

	up, err := NewUploader(s).Prepare(attachmentRecord("FILE0001", "notes.txt", "oldhash"))
	require.NoError(t, err)
	assert.Equal(t, "6f8db599de986fab7a21625b7916589c", up.MD5)
	assert.Equal(t, int64(11), up.Size)
	assert.Equal(t, "oldhash", up.OldMD5)
	assert.Equal(t, "notes.txt", up.Filename)
	assert.Equal(t, "users/1/FILE0001/notes.txt", up.Path)
	assert.Contains(t, up.ContentType, "text/plain")
}

func TestUploader_PrepareKeepsKnownContentType(t *testing.T) {
	s := newMemStorage()
	require.NoError(t, s.WriteFile(s.Path(lib, "FILE0001", "a.pdf"), []byte("%PDF-1.4")))
	rec := attachmentRecord("FILE0001", "a.pdf", "")
	rec.Item().Fields[models.FieldContentType] = "application/pdf"

	up, err := NewUploader(s).Prepare(rec)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", up.ContentType)
}

func TestUploader_PrepareErrors(t *testing.T) {
	u := NewUploader(newMemStorage())

	_, err := u.Prepare(attachmentRecord("FILE0001", "missing.pdf", ""))
	require.ErrorIs(t, err, ErrFileNotFound)

	_, err = u.Prepare(attachmentRecord("FILE0001", "", ""))
	require.ErrorIs(t, err, ErrFileNotFound)

	_, err = u.Prepare(&models.Record{Library: lib, Key: "BOOK0001", Kind: models.KindItem,
		Payload: &models.ItemPayload{ItemType: "book"}})
	require.Error(t, err)
}
