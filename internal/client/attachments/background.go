package attachments

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/remotefs"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/uploads"
	"github.com/dmitrijs2005/refsync/internal/logging"
)

// TransferRequest is one PUT of a local file.
type TransferRequest struct {
	URL      string
	FilePath string
	Size     int64
	Headers  map[string]string
}

type Completion struct {
	TaskID string
	Err    error
}

// BackgroundTransport runs transfers independently of any sync session.
type BackgroundTransport interface {
	Schedule(ctx context.Context, req TransferRequest) (string, error)
	// InFlight lists tasks that are running or whose completion was not yet received.
	InFlight(ctx context.Context) ([]string, error)
	Completions() <-chan Completion
}

// Finished is a background upload whose completion was processed.
type Finished struct {
	Upload *models.BackgroundUpload
	Err    error
	// NeedsMetadata is set for WebDAV uploads: the item's md5 and mtime must be uploaded.
	NeedsMetadata bool
}

// Background schedules uploads on a BackgroundTransport, records them in the
// registry and finalizes them once delivered.
type Background struct {
	transport BackgroundTransport
	registry  *Registry
	api       api.Client
	remote    remotefs.Store
	storage   *Storage
	log       logging.Logger

	userID   atomic.Int64
	callback atomic.Pointer[func(*models.BackgroundUpload, error)]
}

// NewBackground wires the background uploader. remote may be nil when only
// direct uploads are used.
func NewBackground(t BackgroundTransport, r *Registry, c api.Client, remote remotefs.Store, s *Storage, log logging.Logger) *Background {
	if log == nil {
		log = logging.Nop()
	}
	return &Background{transport: t, registry: r, api: c, remote: remote, storage: s, log: log}
}

func (b *Background) SetUserID(id int64) {
	b.userID.Store(id)
}

// OnCompletion registers a function called for uploads started by this process.
func (b *Background) OnCompletion(fn func(*models.BackgroundUpload, error)) {
	b.callback.Store(&fn)
}

func (b *Background) completion(up *models.BackgroundUpload) func(error) {
	fn := b.callback.Load()
	if fn == nil {
		return nil
	}
	return func(err error) { (*fn)(up, err) }
}

func (b *Background) ScheduleDirect(ctx context.Context, up *models.AttachmentUpload, auth *api.Authorization) (string, error) {
	id, err := b.transport.Schedule(ctx, TransferRequest{
		URL:      auth.URL,
		FilePath: up.Path,
		Size:     up.Size,
		Headers:  contentHeaders(auth.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("schedule upload of %s: %w", up.Key, err)
	}
	rec := &models.BackgroundUpload{
		TaskID:    id,
		Kind:      models.UploadKindDirect,
		UploadKey: auth.UploadKey,
		Mtime:     up.Mtime,
		Library:   up.Library,
		Key:       up.Key,
		UserID:    b.userID.Load(),
		RemoteURL: auth.URL,
		FilePath:  up.Path,
		MD5:       up.MD5,
		OldMD5:    up.OldMD5,
		CreatedAt: time.Now().UTC(),
	}
	rec.Completion = b.completion(rec)
	if err := b.registry.Add(ctx, rec); err != nil {
		return "", err
	}
	return id, nil
}

// ScheduleWebDAV stages the zipped file next to the attachment and schedules
// its PUT to the remote store, through a presigned URL when the store has one.
func (b *Background) ScheduleWebDAV(ctx context.Context, up *models.AttachmentUpload, zipped []byte, store remotefs.Store) (string, error) {
	staged := b.storage.Path(up.Library, up.Key, ".upload.zip")
	if err := b.storage.WriteFile(staged, zipped); err != nil {
		return "", fmt.Errorf("stage %s: %w", up.Key, err)
	}

	url := store.URL(zipName(up.Key))
	headers := map[string]string{"Content-Type": "application/zip"}
	token := store.AuthToken()
	if p, ok := store.(remotefs.Presigner); ok {
		signed, err := p.PresignPut(ctx, zipName(up.Key))
		if err != nil {
			return "", err
		}
		url, token = signed, ""
	}
	if token != "" {
		headers["Authorization"] = token
	}

	id, err := b.transport.Schedule(ctx, TransferRequest{URL: url, FilePath: staged, Size: int64(len(zipped)), Headers: headers})
	if err != nil {
		return "", fmt.Errorf("schedule upload of %s: %w", up.Key, err)
	}
	rec := &models.BackgroundUpload{
		TaskID:    id,
		Kind:      models.UploadKindWebDAV,
		Mtime:     up.Mtime,
		AuthToken: token,
		Library:   up.Library,
		Key:       up.Key,
		UserID:    b.userID.Load(),
		RemoteURL: url,
		FilePath:  staged,
		MD5:       up.MD5,
		OldMD5:    up.OldMD5,
		CreatedAt: time.Now().UTC(),
	}
	rec.Completion = b.completion(rec)
	if err := b.registry.Add(ctx, rec); err != nil {
		return "", err
	}
	return id, nil
}

// Finalize processes every completion delivered so far without blocking.
func (b *Background) Finalize(ctx context.Context) ([]Finished, error) {
	var done []Finished
	for {
		select {
		case c := <-b.transport.Completions():
			f, err := b.finalize(ctx, c)
			if err != nil {
				return done, err
			}
			if f != nil {
				done = append(done, *f)
			}
		default:
			return done, nil
		}
	}
}

func (b *Background) finalize(ctx context.Context, c Completion) (*Finished, error) {
	rec, err := b.registry.Get(ctx, c.TaskID)
	if errors.Is(err, uploads.ErrNotFound) {
		b.log.Warn(ctx, "completion of unknown background upload", "task", c.TaskID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	f := &Finished{Upload: rec, Err: c.Err}
	if f.Err == nil {
		switch rec.Kind {
		case models.UploadKindDirect:
			up := &models.AttachmentUpload{Library: rec.Library, Key: rec.Key, MD5: rec.MD5, Mtime: rec.Mtime, OldMD5: rec.OldMD5}
			f.Err = b.api.RegisterUpload(ctx, up, rec.UploadKey)
		case models.UploadKindWebDAV:
			if b.remote == nil {
				f.Err = fmt.Errorf("%w: no remote store for %s", ErrNotVerified, rec.Key)
				break
			}
			f.Err = writeProperties(ctx, b.remote, rec.Key, rec.Mtime, rec.MD5)
			f.NeedsMetadata = f.Err == nil
		}
	}
	if rec.Kind == models.UploadKindWebDAV {
		if err := b.storage.Remove(rec.FilePath); err != nil {
			b.log.Warn(ctx, "failed to remove staged upload", "path", rec.FilePath, "error", err)
		}
	}
	if f.Err != nil {
		b.log.Warn(ctx, "background upload failed", "library", rec.Library, "key", rec.Key, "error", f.Err)
	}
	if err := b.registry.Complete(ctx, rec.TaskID, f.Err); err != nil {
		return nil, err
	}
	return f, nil
}

// Await finalizes completions until no task is in flight.
func (b *Background) Await(ctx context.Context) ([]Finished, error) {
	var done []Finished
	for {
		ids, err := b.transport.InFlight(ctx)
		if err != nil {
			return done, err
		}
		if len(ids) == 0 {
			return done, nil
		}
		select {
		case c := <-b.transport.Completions():
			f, err := b.finalize(ctx, c)
			if err != nil {
				return done, err
			}
			if f != nil {
				done = append(done, *f)
			}
		case <-ctx.Done():
			return done, ctx.Err()
		}
	}
}

// Reconcile drops registry records whose task is gone and returns the
// "library/key" set of attachments still uploading.
func (b *Background) Reconcile(ctx context.Context) (map[string]bool, error) {
	ids, err := b.transport.InFlight(ctx)
	if err != nil {
		return nil, err
	}
	inFlight := make(map[string]bool, len(ids))
	for _, id := range ids {
		inFlight[id] = true
	}

	all, err := b.registry.All(ctx)
	if err != nil {
		return nil, err
	}
	uploading := map[string]bool{}
	for _, rec := range all {
		if !inFlight[rec.TaskID] {
			b.log.Info(ctx, "dropping stale background upload", "task", rec.TaskID, "key", rec.Key)
			if err := b.registry.Drop(ctx, rec.TaskID); err != nil {
				return nil, err
			}
			if rec.Kind == models.UploadKindWebDAV {
				_ = b.storage.Remove(rec.FilePath)
			}
			continue
		}
		uploading[UploadingKey(rec.Library, rec.Key)] = true
	}
	return uploading, nil
}

// UploadingKey is the key of the set returned by Reconcile.
func UploadingKey(lib models.LibraryID, key string) string {
	return lib.String() + "/" + key
}
