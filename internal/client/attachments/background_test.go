package attachments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/decisions"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/uploads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackground_FinalizeDirect(t *testing.T) {
	ctx := context.Background()
	s := newMemStorage()
	tr := newFakeTransport()
	reg := NewRegistry(openStore(t))
	fake := &fakeAPI{}
	bg := NewBackground(tr, reg, fake, nil, s, nil)

	var mu sync.Mutex
	var called []string
	bg.OnCompletion(func(up *models.BackgroundUpload, err error) {
		mu.Lock()
		defer mu.Unlock()
		called = append(called, up.Key)
	})

	up := prepared(t, s, "FILE0001", "a.txt", "x")
	up.OldMD5 = "old"
	id, err := bg.ScheduleDirect(ctx, up, &api.Authorization{URL: "https://u.example.org", UploadKey: "ticket"})
	require.NoError(t, err)

	done, err := bg.Finalize(ctx)
	require.NoError(t, err)
	assert.Empty(t, done, "nothing delivered yet")

	tr.complete(id, nil)
	done, err = bg.Finalize(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.NoError(t, done[0].Err)
	assert.False(t, done[0].NeedsMetadata)
	assert.Equal(t, []string{"FILE0001:ticket"}, fake.registered)
	assert.Equal(t, []string{"FILE0001"}, called)

	_, err = reg.Get(ctx, id)
	require.ErrorIs(t, err, uploads.ErrNotFound)
}

func TestBackground_FinalizeWebDAV(t *testing.T) {
	ctx := context.Background()
	s := newMemStorage()
	store := newMemStore()
	tr := newFakeTransport()
	reg := NewRegistry(openStore(t))
	bg := NewBackground(tr, reg, &fakeAPI{}, store, s, nil)
	w := NewWebDAVTransport(store, &decisions.Policy{}, s, bg, nil)

	up := prepared(t, s, "FILE0001", "a.txt", "x")
	out, err := w.Upload(ctx, up)
	require.NoError(t, err)
	staged := tr.requests[out.TaskID].FilePath

	tr.complete(out.TaskID, nil)
	done, err := bg.Finalize(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.True(t, done[0].NeedsMetadata)
	assert.Equal(t, up.MD5, done[0].Upload.MD5)
	assert.Contains(t, store.names(), "FILE0001.prop")
	assert.False(t, s.Exists(staged))
}

func TestBackground_FailedTransfer(t *testing.T) {
	ctx := context.Background()
	s := newMemStorage()
	tr := newFakeTransport()
	fake := &fakeAPI{}
	bg := NewBackground(tr, NewRegistry(openStore(t)), fake, nil, s, nil)

	up := prepared(t, s, "FILE0001", "a.txt", "x")
	id, err := bg.ScheduleDirect(ctx, up, &api.Authorization{URL: "u", UploadKey: "ticket"})
	require.NoError(t, err)

	boom := errors.New("connection reset")
	tr.complete(id, boom)
	done, err := bg.Finalize(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.ErrorIs(t, done[0].Err, boom)
	assert.Empty(t, fake.registered)
}

func TestBackground_Reconcile(t *testing.T) {
	ctx := context.Background()
	s := newMemStorage()
	tr := newFakeTransport()
	reg := NewRegistry(openStore(t))
	bg := NewBackground(tr, reg, &fakeAPI{}, nil, s, nil)

	up1 := prepared(t, s, "FILE0001", "a.txt", "x")
	up2 := prepared(t, s, "FILE0002", "b.txt", "y")
	id1, err := bg.ScheduleDirect(ctx, up1, &api.Authorization{URL: "u", UploadKey: "t1"})
	require.NoError(t, err)
	id2, err := bg.ScheduleDirect(ctx, up2, &api.Authorization{URL: "u", UploadKey: "t2"})
	require.NoError(t, err)

	// the process restarted and the transport lost the first task
	tr.forget(id1)

	uploading, err := bg.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"users/1/FILE0002": true}, uploading)

	all, err := reg.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id2, all[0].TaskID)
}

func TestBackground_Await(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := newMemStorage()
	tr := newFakeTransport()
	fake := &fakeAPI{}
	bg := NewBackground(tr, NewRegistry(openStore(t)), fake, nil, s, nil)

	up := prepared(t, s, "FILE0001", "a.txt", "x")
	id, err := bg.ScheduleDirect(ctx, up, &api.Authorization{URL: "u", UploadKey: "ticket"})
	require.NoError(t, err)

	go tr.complete(id, nil)
	done, err := bg.Await(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, []string{"FILE0001:ticket"}, fake.registered)
}

func TestHTTPBackground_Transfers(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, r.URL.Path+"="+string(b))
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := newMemStorage()
	require.NoError(t, s.WriteFile("f.bin", []byte("data")))
	b := NewHTTPBackground(srv.Client(), s, nil)
	defer b.Close()

	ctx := context.Background()
	okID, err := b.Schedule(ctx, TransferRequest{URL: srv.URL + "/ok", FilePath: "f.bin", Size: 4})
	require.NoError(t, err)
	failID, err := b.Schedule(ctx, TransferRequest{URL: srv.URL + "/fail", FilePath: "f.bin", Size: 4})
	require.NoError(t, err)

	results := map[string]error{}
	timeout := time.After(5 * time.Second)
	for len(results) < 2 {
		select {
		case c := <-b.Completions():
			results[c.TaskID] = c.Err
		case <-timeout:
			t.Fatal("timed out waiting for completions")
		}
	}
	assert.NoError(t, results[okID])
	assert.Error(t, results[failID])

	ids, err := b.InFlight(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"/ok=data", "/fail=data"}, got)
}

func TestHTTPBackground_InFlightUntilReceived(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := newMemStorage()
	require.NoError(t, s.WriteFile("f.bin", []byte("data")))
	b := NewHTTPBackground(srv.Client(), s, nil)
	defer b.Close()

	id, err := b.Schedule(context.Background(), TransferRequest{URL: srv.URL, FilePath: "f.bin", Size: 4})
	require.NoError(t, err)

	// not received yet, so still in flight even when the transfer is done
	time.Sleep(50 * time.Millisecond)
	ids, err := b.InFlight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	select {
	case c := <-b.Completions():
		assert.Equal(t, id, c.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestHTTPBackground_ReceivedIsNotInFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := newMemStorage()
	require.NoError(t, s.WriteFile("f.bin", []byte("data")))
	b := NewHTTPBackground(srv.Client(), s, nil)
	defer b.Close()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		id, err := b.Schedule(ctx, TransferRequest{URL: srv.URL, FilePath: "f.bin", Size: 4})
		require.NoError(t, err)

		select {
		case c := <-b.Completions():
			require.Equal(t, id, c.TaskID)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}

		ids, err := b.InFlight(ctx)
		require.NoError(t, err)
		require.NotContains(t, ids, id, "iteration %d", i)
	}
}
