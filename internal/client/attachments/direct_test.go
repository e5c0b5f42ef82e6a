package attachments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepared(t *testing.T, s *Storage, key, filename, content string) *models.AttachmentUpload {
	t.Helper()
	require.NoError(t, s.WriteFile(s.Path(lib, key, filename), []byte(content)))
	up, err := NewUploader(s).Prepare(attachmentRecord(key, filename, ""))
	require.NoError(t, err)
	return up
}

func TestDirect_Upload(t *testing.T) {
	var body []byte
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := newMemStorage()
	up := prepared(t, s, "FILE0001", "a.txt", "payload")
	fake := &fakeAPI{auth: &api.Authorization{URL: srv.URL + "/upload", ContentType: "text/plain", UploadKey: "ticket"}}

	out, err := NewDirect(fake, s, srv.Client(), nil).Upload(context.Background(), up)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Reached: true}, out)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "text/plain", contentType)
	assert.Equal(t, []string{"FILE0001:ticket"}, fake.registered)
}

func TestDirect_FileExists(t *testing.T) {
	s := newMemStorage()
	up := prepared(t, s, "FILE0001", "a.txt", "payload")
	fake := &fakeAPI{auth: &api.Authorization{Exists: true}}

	out, err := NewDirect(fake, s, nil, nil).Upload(context.Background(), up)
	require.NoError(t, err)
	assert.True(t, out.Exists)
	assert.True(t, out.Reached)
	assert.Empty(t, fake.registered)
}

func TestDirect_Errors(t *testing.T) {
	s := newMemStorage()
	up := prepared(t, s, "FILE0001", "a.txt", "payload")

	_, err := NewDirect(&fakeAPI{authErr: api.ErrUnavailable}, s, nil, nil).Upload(context.Background(), up)
	require.ErrorIs(t, err, api.ErrUnavailable)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	fake := &fakeAPI{auth: &api.Authorization{URL: srv.URL, UploadKey: "ticket"}}
	out, err := NewDirect(fake, s, srv.Client(), nil).Upload(context.Background(), up)
	require.Error(t, err)
	assert.True(t, out.Reached)
	assert.Empty(t, fake.registered)

	fake = &fakeAPI{auth: &api.Authorization{URL: srv.URL, UploadKey: "ticket"},
		registerFn: func(*models.AttachmentUpload, string) error { return errors.New("boom") }}
	require.NoError(t, s.Remove(up.Path))
	_, err = NewDirect(fake, s, srv.Client(), nil).Upload(context.Background(), up)
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestDirect_Background(t *testing.T) {
	s := newMemStorage()
	up := prepared(t, s, "FILE0001", "a.txt", "payload")
	tr := newFakeTransport()
	reg := NewRegistry(openStore(t))
	fake := &fakeAPI{auth: &api.Authorization{URL: "https://uploads.example.org/x", UploadKey: "ticket"}}
	bg := NewBackground(tr, reg, fake, nil, s, nil)
	bg.SetUserID(1)

	out, err := NewDirect(fake, s, nil, bg).Upload(context.Background(), up)
	require.NoError(t, err)
	assert.True(t, out.Background)
	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, "https://uploads.example.org/x", tr.requests["task-1"].URL)
	assert.Empty(t, fake.registered)

	rec, err := reg.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.UploadKindDirect, rec.Kind)
	assert.Equal(t, "ticket", rec.UploadKey)
	assert.Equal(t, int64(1), rec.UserID)
}
