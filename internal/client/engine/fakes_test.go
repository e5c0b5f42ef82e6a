package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/attachments"
	"github.com/dmitrijs2005/refsync/internal/client/decisions"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/schema"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"github.com/stretchr/testify/require"
)

var userLib = models.UserLibrary(1)

// remoteObject is an object as the fake server keeps it.
type remoteObject struct {
	kind    models.Kind
	version int64
	data    map[string]any
}

// remoteLibrary is the server side of one library. Every write bumps version.
type remoteLibrary struct {
	version   int64
	objects   map[string]*remoteObject
	deleted   map[string]int64
	deletedOf map[string]models.Kind
	colors    []models.TagColor
	// raw replaces the JSON returned for a key, e.g. to serve invalid objects
	raw map[string]json.RawMessage
	// withheld keys are listed but left out of fetch responses
	withheld map[string]bool
}

func newRemoteLibrary(version int64) *remoteLibrary {
	return &remoteLibrary{
		version:   version,
		objects:   map[string]*remoteObject{},
		deleted:   map[string]int64{},
		deletedOf: map[string]models.Kind{},
		raw:       map[string]json.RawMessage{},
		withheld:  map[string]bool{},
	}
}

func (r *remoteLibrary) put(kind models.Kind, key string, version int64, data map[string]any) {
	r.objects[key] = &remoteObject{kind: kind, version: version, data: data}
	if version > r.version {
		r.version = version
	}
}

func (r *remoteLibrary) remove(kind models.Kind, key string, version int64) {
	delete(r.objects, key)
	r.deleted[key] = version
	r.deletedOf[key] = kind
	if version > r.version {
		r.version = version
	}
}

// fakeAPI is an in-memory server. The If-Modified-Since and
// If-Unmodified-Since rules follow the real API.
type fakeAPI struct {
	api.Client

	mu     sync.Mutex
	key    *api.KeyInfo
	groups map[int64]*api.Group
	libs   map[models.LibraryID]*remoteLibrary

	// block makes KeyPermissions wait until closed or canceled
	block chan struct{}
	// beforeWrite runs before every write request with its 1-based number
	beforeWrite func(n int)
	// listErr is returned by ListVersions while set
	listErr error

	writes      int
	written     []api.WriteObject
	deleteCalls [][]string
	fetched     []string
	listCalls   []models.LibraryID
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		key: &api.KeyInfo{
			UserID:   1,
			Username: "alice",
			User:     api.Access{Library: true, Write: true, Files: true},
			Groups:   map[int64]api.Access{},
		},
		groups: map[int64]*api.Group{},
		libs:   map[models.LibraryID]*remoteLibrary{userLib: newRemoteLibrary(0)},
	}
}

func (f *fakeAPI) lib(id models.LibraryID) (*remoteLibrary, error) {
	r, ok := f.libs[id]
	if !ok {
		return nil, api.ErrNotFound
	}
	return r, nil
}

func (f *fakeAPI) KeyPermissions(ctx context.Context) (*api.KeyInfo, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := *f.key
	return &k, nil
}

func (f *fakeAPI) GroupVersions(context.Context, int64) (map[int64]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]int64{}
	for id, g := range f.groups {
		out[id] = g.Version
	}
	return out, nil
}

func (f *fakeAPI) FetchGroup(_ context.Context, id int64) (*api.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return nil, api.ErrNotFound
	}
	c := *g
	return &c, nil
}

func (f *fakeAPI) FetchSettings(_ context.Context, id models.LibraryID, since int64) (*api.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.lib(id)
	if err != nil {
		return nil, err
	}
	if since >= r.version {
		return nil, api.ErrNotModified
	}
	return &api.Settings{TagColors: slices.Clone(r.colors), Version: r.version}, nil
}

func (f *fakeAPI) ListVersions(_ context.Context, id models.LibraryID, kind models.Kind, since int64) (map[string]int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, id)
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	r, err := f.lib(id)
	if err != nil {
		return nil, 0, err
	}
	if since >= r.version {
		return nil, 0, api.ErrNotModified
	}
	out := map[string]int64{}
	for key, o := range r.objects {
		if o.kind != kind.Stored() || o.version <= since {
			continue
		}
		// the items listing leaves trashed items out
		if (kind == models.KindTrash) != (o.data["deleted"] == true) {
			continue
		}
		out[key] = o.version
	}
	return out, r.version, nil
}

func (f *fakeAPI) FetchObjects(_ context.Context, id models.LibraryID, _ models.Kind, keys []string) ([]json.RawMessage, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.lib(id)
	if err != nil {
		return nil, 0, err
	}
	f.fetched = append(f.fetched, keys...)
	var out []json.RawMessage
	for _, key := range keys {
		if r.withheld[key] {
			continue
		}
		if raw, ok := r.raw[key]; ok {
			out = append(out, raw)
			continue
		}
		o, ok := r.objects[key]
		if !ok {
			continue
		}
		data := maps.Clone(o.data)
		data["key"], data["version"] = key, o.version
		b, err := json.Marshal(map[string]any{
			"key":     key,
			"version": o.version,
			"library": map[string]any{"type": string(id.Type), "id": id.ID},
			"data":    data,
		})
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, r.version, nil
}

func (f *fakeAPI) FetchDeletionLog(_ context.Context, id models.LibraryID, since int64) (*api.DeletionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.lib(id)
	if err != nil {
		return nil, err
	}
	if since >= r.version {
		return nil, api.ErrNotModified
	}
	log := &api.DeletionLog{Version: r.version}
	for _, key := range slices.Sorted(maps.Keys(r.deleted)) {
		if r.deleted[key] <= since {
			continue
		}
		switch r.deletedOf[key] {
		case models.KindCollection:
			log.Collections = append(log.Collections, key)
		case models.KindSearch:
			log.Searches = append(log.Searches, key)
		case models.KindItem:
			log.Items = append(log.Items, key)
		}
	}
	return log, nil
}

func (f *fakeAPI) CollectionItemKeys(_ context.Context, id models.LibraryID, collectionKey string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.lib(id)
	if err != nil {
		return nil, err
	}
	var keys []string
	for key, o := range r.objects {
		cols, _ := o.data["collections"].([]any)
		for _, c := range cols {
			if c == collectionKey {
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// precondition bumps the write counter and applies If-Unmodified-Since-Version.
func (f *fakeAPI) precondition(id models.LibraryID, version int64) (*remoteLibrary, error) {
	f.writes++
	if f.beforeWrite != nil {
		n, hook := f.writes, f.beforeWrite
		f.mu.Unlock()
		hook(n)
		f.mu.Lock()
	}
	r, err := f.lib(id)
	if err != nil {
		return nil, err
	}
	if version < r.version {
		return nil, fmt.Errorf("library at %d: %w", r.version, api.ErrPreconditionFailed)
	}
	return r, nil
}

func (f *fakeAPI) WriteBatch(_ context.Context, id models.LibraryID, kind models.Kind, version int64, objs []api.WriteObject) (*api.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.precondition(id, version)
	if err != nil {
		return nil, err
	}
	r.version++
	res := &api.WriteResult{Version: r.version}
	for _, obj := range objs {
		key := obj.Key()
		f.written = append(f.written, obj)
		o, ok := r.objects[key]
		if !ok {
			o = &remoteObject{kind: kind, data: map[string]any{}}
			r.objects[key] = o
		}
		for name, v := range obj {
			if name != "key" && name != "version" {
				o.data[name] = v
			}
		}
		o.version = r.version
		res.Successful = append(res.Successful, key)
	}
	return res, nil
}

func (f *fakeAPI) SubmitDeletions(_ context.Context, id models.LibraryID, kind models.Kind, version int64, keys []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.precondition(id, version)
	if err != nil {
		return 0, err
	}
	r.version++
	for _, key := range keys {
		r.remove(kind, key, r.version)
	}
	f.deleteCalls = append(f.deleteCalls, keys)
	return r.version, nil
}

func (f *fakeAPI) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeAPI) writtenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, o := range f.written {
		keys = append(keys, o.Key())
	}
	return keys
}

// fakeFiles is an attachment transport that records uploads.
type fakeFiles struct {
	mu        sync.Mutex
	outcome   attachments.Outcome
	err       error
	verifyErr error
	uploads   []*models.AttachmentUpload
}

func (f *fakeFiles) Upload(_ context.Context, up *models.AttachmentUpload) (attachments.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, up)
	return f.outcome, f.err
}

// verifyingFiles adds the check a WebDAV transport runs before uploading.
type verifyingFiles struct {
	*fakeFiles
}

func (f verifyingFiles) Verify(context.Context) error { return f.verifyErr }

type harness struct {
	api    *fakeAPI
	store  *store.Store
	policy *decisions.Policy
	opts   Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return &harness{
		api:    newFakeAPI(),
		store:  st,
		policy: &decisions.Policy{},
		opts: Options{
			Backoff: &Backoff{Delays: []time.Duration{time.Millisecond, 2 * time.Millisecond}, MaxRetries: 3},
		},
	}
}

func (h *harness) controller() *Controller {
	return New(h.api, h.store, schema.Default(), h.policy, h.opts, nil)
}

func (h *harness) run(t *testing.T, typ SessionType) Result {
	t.Helper()
	return h.controller().Run(context.Background(), Request{Type: typ})
}

// seedLibrary stores a library with every version counter at version.
func (h *harness) seedLibrary(t *testing.T, lib *models.Library, version int64) {
	t.Helper()
	for _, k := range []models.Kind{models.KindCollection, models.KindSearch, models.KindItem, models.KindTrash, models.KindSettings} {
		lib.Versions.Set(k, version)
	}
	lib.Versions.SetDeletions(version)
	err := h.store.Write(context.Background(), func(ctx context.Context, r store.Repositories) error {
		return r.Libraries.Upsert(ctx, lib)
	})
	require.NoError(t, err)
}

func (h *harness) seed(t *testing.T, recs ...*models.Record) {
	t.Helper()
	err := h.store.Write(context.Background(), func(ctx context.Context, r store.Repositories) error {
		for _, rec := range recs {
			if err := r.Objects.Upsert(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (h *harness) record(t *testing.T, lib models.LibraryID, key string) *models.Record {
	t.Helper()
	rec, err := h.store.Read().Objects.Get(context.Background(), lib, key)
	require.NoError(t, err)
	return rec
}

func (h *harness) library(t *testing.T, id models.LibraryID) *models.Library {
	t.Helper()
	lib, err := h.store.Read().Libraries.Get(context.Background(), id)
	require.NoError(t, err)
	return lib
}

func book(title string) map[string]any {
	return map[string]any{"itemType": "book", "title": title}
}

func collection(key string, version int64, name string) *models.Record {
	return &models.Record{
		Library: userLib,
		Key:     key,
		Kind:    models.KindCollection,
		Version: version,
		State:   models.SyncStateSynced,
		Payload: &models.CollectionPayload{Name: name},
	}
}

func item(key string, version int64, title string) *models.Record {
	return &models.Record{
		Library: userLib,
		Key:     key,
		Kind:    models.KindItem,
		Version: version,
		State:   models.SyncStateSynced,
		Payload: &models.ItemPayload{ItemType: "book", Fields: map[string]string{"title": title}},
	}
}
