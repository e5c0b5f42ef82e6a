package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/attachments"
	"github.com/dmitrijs2005/refsync/internal/client/config"
	"github.com/dmitrijs2005/refsync/internal/client/decisions"
	"github.com/dmitrijs2005/refsync/internal/client/engine"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"github.com/dmitrijs2005/refsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu       sync.Mutex
	requests []engine.Request
	result   engine.Result
	onRun    func(n int)
}

func (f *fakeSyncer) Run(_ context.Context, req engine.Request) engine.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun(n)
	}
	return f.result
}

func newTestApp(c *config.Config, s syncer) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	return &App{config: c, out: &out, syncer: s, log: logging.Nop(), request: engine.Request{Type: engine.SessionFull}}, &out
}

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest(&config.Config{Full: true, Libraries: []string{"users/1", "groups/7"}})
	require.NoError(t, err)
	assert.Equal(t, engine.SessionFull, req.Type)
	assert.True(t, req.Libraries.Includes(models.GroupLibrary(7)))
	assert.False(t, req.Libraries.Includes(models.GroupLibrary(8)))

	req, err = buildRequest(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, engine.SessionNormal, req.Type)
	assert.True(t, req.Libraries.Includes(models.GroupLibrary(8)))

	_, err = buildRequest(&config.Config{Libraries: []string{"teams/1"}})
	require.ErrorIs(t, err, models.ErrInvalidLibraryID)
}

func TestApp_RunOnce(t *testing.T) {
	s := &fakeSyncer{result: engine.Result{Writes: 2}}
	app, out := newTestApp(&config.Config{}, s)

	require.NoError(t, app.Run(context.Background()))
	assert.Len(t, s.requests, 1)
	assert.Contains(t, out.String(), "sync ok")
	assert.Contains(t, out.String(), "2 writes")
}

func TestApp_RunOnceReturnsSessionError(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeSyncer{result: engine.Result{Err: boom}}
	app, out := newTestApp(&config.Config{}, s)

	require.ErrorIs(t, app.Run(context.Background()), boom)
	assert.Contains(t, out.String(), "sync failed")
	assert.Contains(t, out.String(), "error: boom")
}

func TestApp_RunPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &fakeSyncer{result: engine.Result{Err: errors.New("offline")}}
	s.onRun = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	app, _ := newTestApp(&config.Config{SyncInterval: time.Millisecond}, s)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	require.GreaterOrEqual(t, len(s.requests), 3)
	assert.Equal(t, engine.SessionFull, s.requests[0].Type)
	assert.Equal(t, engine.SessionNormal, s.requests[1].Type)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, engine.Result{
		Err:     errors.New("partial"),
		Actions: []engine.Action{{Type: engine.ActionUploadBatch}, {Type: engine.ActionUploadBatch}},
		Conflicts: []models.Conflict{
			{Type: models.ConflictRemoteChange, Library: models.UserLibrary(1), Kind: models.KindItem, Keys: []string{"AAAAAAAA"}},
		},
		LibraryErrors: map[models.LibraryID]error{
			models.GroupLibrary(7): errors.New("forbidden"),
			models.UserLibrary(1):  errors.New("offline"),
		},
	}, 1500*time.Millisecond)

	got := out.String()
	assert.Contains(t, got, "sync failed in 1.5s")
	assert.Contains(t, got, "uploadBatch")
	assert.Contains(t, got, "AAAAAAAA")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("groups/7: forbidden")), bytes.Index(out.Bytes(), []byte("users/1: offline")))
	assert.NotContains(t, got, "error: partial")
}

func TestNewMaker(t *testing.T) {
	orig := isTerminal
	t.Cleanup(func() { isTerminal = orig })

	isTerminal = func(int) bool { return true }
	assert.IsType(t, &decisions.Prompt{}, newMaker(&config.Config{}, os.Stdin, &bytes.Buffer{}))
	assert.IsType(t, &decisions.Policy{}, newMaker(&config.Config{Unattended: true}, os.Stdin, &bytes.Buffer{}))

	isTerminal = func(int) bool { return false }
	assert.IsType(t, &decisions.Policy{}, newMaker(&config.Config{}, os.Stdin, &bytes.Buffer{}))
}

func TestLoadSchema(t *testing.T) {
	s, err := loadSchema("")
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = loadSchema(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestBuildFiles(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	base := func(mode string) *config.Config {
		c := &config.Config{}
		c.LoadDefaults()
		c.DataDir = t.TempDir()
		c.FileSync = mode
		return c
	}
	maker := decisions.Unattended()

	t.Run("off", func(t *testing.T) {
		fs, err := buildFiles(ctx, base(config.FileSyncOff), nil, st, maker, nil)
		require.NoError(t, err)
		assert.Nil(t, fs.opts.Files)
		assert.Nil(t, fs.opts.Uploader)
	})

	t.Run("zotero with background uploads", func(t *testing.T) {
		c := base(config.FileSyncZotero)
		c.BackgroundUploads = true
		fs, err := buildFiles(ctx, c, nil, st, maker, nil)
		require.NoError(t, err)
		assert.IsType(t, &attachments.Direct{}, fs.opts.Files)
		assert.NotNil(t, fs.opts.Background)
		require.Len(t, fs.closers, 1)
		assert.NoError(t, fs.closers[0]())
	})

	t.Run("webdav", func(t *testing.T) {
		c := base(config.FileSyncWebDAV)
		c.WebDAVURL = "https://dav.example.org/refs"
		fs, err := buildFiles(ctx, c, nil, st, maker, nil)
		require.NoError(t, err)
		assert.IsType(t, &attachments.WebDAVTransport{}, fs.opts.Files)
		assert.NotNil(t, fs.opts.Storage)
		assert.Nil(t, fs.opts.Background)
	})

	t.Run("webdav without url", func(t *testing.T) {
		_, err := buildFiles(ctx, base(config.FileSyncWebDAV), nil, st, maker, nil)
		require.Error(t, err)
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		_, err := buildFiles(ctx, base(config.FileSyncS3), nil, st, maker, nil)
		require.Error(t, err)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := buildFiles(ctx, base("ftp"), nil, st, maker, nil)
		require.ErrorContains(t, err, "ftp")
	})
}

func TestNewApp(t *testing.T) {
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = ":memory:"
	c.FileSync = config.FileSyncOff
	c.Unattended = true
	c.Libraries = []string{"users/1"}

	app, err := NewApp(context.Background(), c, nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.NotNil(t, app.syncer)
	assert.Nil(t, app.background)
	require.NoError(t, app.Close())
	assert.NoError(t, app.Close())
}

func TestNewApp_InvalidLibrary(t *testing.T) {
	c := &config.Config{}
	c.LoadDefaults()
	c.Libraries = []string{"nope"}

	_, err := NewApp(context.Background(), c, nil, &bytes.Buffer{})
	require.Error(t, err)
}
