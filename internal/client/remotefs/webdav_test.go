package remotefs

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

func newDAVServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(&webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	})
	t.Cleanup(srv.Close)
	return srv
}

func TestWebDAV_Lifecycle(t *testing.T) {
	srv := newDAVServer(t)
	ctx := context.Background()
	w := NewWebDAV(srv.URL+"/", "", "", 5*time.Second)

	require.NoError(t, w.Probe(ctx))

	ok, err := w.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = w.ParentExists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, w.CreateRoot(ctx))
	ok, err = w.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = w.Read(ctx, "AAAAAAAA.prop")
	require.ErrorIs(t, err, ErrNotExist)

	body := []byte(`<properties version="1"><mtime>1</mtime><hash>abc</hash></properties>`)
	require.NoError(t, w.Write(ctx, "AAAAAAAA.prop", bytes.NewReader(body), int64(len(body))))

	got, err := w.Read(ctx, "AAAAAAAA.prop")
	require.NoError(t, err)
	assert.Equal(t, body, got)

	require.NoError(t, w.Remove(ctx, "AAAAAAAA.prop"))
	require.NoError(t, w.Remove(ctx, "AAAAAAAA.prop"))
	_, err = w.Read(ctx, "AAAAAAAA.prop")
	require.ErrorIs(t, err, ErrNotExist)

	assert.Equal(t, srv.URL+"/zotero/AAAAAAAA.zip", w.URL("AAAAAAAA.zip"))
}

func TestWebDAV_AuthToken(t *testing.T) {
	assert.Equal(t, "Basic dXNlcjpwYXNz", NewWebDAV("https://dav.example.org", "user", "pass", 0).AuthToken())
	assert.Empty(t, NewWebDAV("https://dav.example.org", "", "", 0).AuthToken())
}

func TestWebDAV_CanceledContext(t *testing.T) {
	w := NewWebDAV(newDAVServer(t).URL, "", "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Probe(ctx), context.Canceled)
	_, err := w.Read(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
}
