package attachments

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/remotefs"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

var lib = models.UserLibrary(1)

// fakeAPI implements the upload half of api.Client.
type fakeAPI struct {
	api.Client

	mu         sync.Mutex
	auth       *api.Authorization
	authErr    error
	authorized []*models.AttachmentUpload
	registered []string
	registerFn func(up *models.AttachmentUpload, key string) error
}

func (f *fakeAPI) AuthorizeUpload(_ context.Context, up *models.AttachmentUpload) (*api.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = append(f.authorized, up)
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.auth, nil
}

func (f *fakeAPI) RegisterUpload(_ context.Context, up *models.AttachmentUpload, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, up.Key+":"+key)
	if f.registerFn != nil {
		return f.registerFn(up, key)
	}
	return nil
}

// memStore is an in-memory remotefs.Store.
type memStore struct {
	mu          sync.Mutex
	files       map[string][]byte
	root        bool
	parent      bool
	probes      int
	createdRoot bool
	brokenProbe bool
	probeErr    error
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}, root: true, parent: true}
}

func (m *memStore) Probe(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	return m.probeErr
}

func (m *memStore) Exists(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root, nil
}

func (m *memStore) ParentExists(context.Context) (bool, error) { return m.parent, nil }

func (m *memStore) CreateRoot(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root, m.createdRoot = true, true
	return nil
}

func (m *memStore) Write(_ context.Context, name string, r io.Reader, _ int64) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = b
	return nil
}

func (m *memStore) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.brokenProbe && name == nonexistentFile {
		return []byte{}, nil
	}
	b, ok := m.files[name]
	if !ok {
		return nil, remotefs.ErrNotExist
	}
	return b, nil
}

func (m *memStore) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

func (m *memStore) URL(name string) string { return "https://dav.example.org/zotero/" + name }
func (m *memStore) AuthToken() string      { return "Basic dXNlcjpwYXNz" }

func (m *memStore) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for n := range m.files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// fakeTransport records scheduled transfers; completions are pushed by tests.
// A completed task stays in flight while its completion sits in the channel.
type fakeTransport struct {
	mu          sync.Mutex
	next        int
	requests    map[string]TransferRequest
	inFlight    map[string]bool
	done        map[string]bool
	completions chan Completion
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		requests:    map[string]TransferRequest{},
		inFlight:    map[string]bool{},
		done:        map[string]bool{},
		completions: make(chan Completion, 16),
	}
}

func (f *fakeTransport) Schedule(_ context.Context, req TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := "task-" + string(rune('0'+f.next))
	f.requests[id] = req
	f.inFlight[id] = true
	return id, nil
}

func (f *fakeTransport) InFlight(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.inFlight {
		if f.done[id] && len(f.completions) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeTransport) Completions() <-chan Completion { return f.completions }

func (f *fakeTransport) complete(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[id] = true
	f.completions <- Completion{TaskID: id, Err: err}
}

func (f *fakeTransport) forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inFlight, id)
}

func newMemStorage() *Storage {
	return NewStorage(memfs.New())
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func attachmentRecord(key, filename, oldMD5 string) *models.Record {
	return &models.Record{
		Library: lib,
		Key:     key,
		Kind:    models.KindItem,
		Payload: &models.ItemPayload{
			ItemType: models.ItemTypeAttachment,
			Fields: map[string]string{
				models.FieldLinkMode: models.LinkModeImportedFile,
				models.FieldFilename: filename,
				models.FieldMD5:      oldMD5,
			},
			FileChanged: true,
		},
	}
}

func unzipFile(t *testing.T, b []byte) (string, []byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return zr.File[0].Name, data
}
