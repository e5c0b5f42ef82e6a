package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/remotefs"
	"github.com/dmitrijs2005/refsync/internal/logging"
)

const (
	nonexistentFile = "nonexistent.prop"
	testFile        = "zotero-test-file.prop"
)

// WebDAVTransport stores attachments as KEY.zip plus a KEY.prop sidecar in a
// remote file store. The store is verified once per session.
type WebDAVTransport struct {
	store      remotefs.Store
	asker      Asker
	storage    *Storage
	background *Background
	log        logging.Logger

	mu       sync.Mutex
	verified bool
}

var _ Transport = (*WebDAVTransport)(nil)

func NewWebDAVTransport(store remotefs.Store, asker Asker, s *Storage, background *Background, log logging.Logger) *WebDAVTransport {
	if log == nil {
		log = logging.Nop()
	}
	return &WebDAVTransport{store: store, asker: asker, storage: s, background: background, log: log}
}

// Reset forgets the verification so the next upload verifies again.
func (w *WebDAVTransport) Reset() {
	w.mu.Lock()
	w.verified = false
	w.mu.Unlock()
}

// Verify checks the store: reachable, root directory present (created after
// asking when missing), not-found reported for missing files, and a test
// file can be written, read back and deleted.
func (w *WebDAVTransport) Verify(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.verified {
		return nil
	}

	if err := w.store.Probe(ctx); err != nil {
		return notVerified(err)
	}

	exists, err := w.store.Exists(ctx)
	if err != nil {
		return notVerified(err)
	}
	if !exists {
		parent, err := w.store.ParentExists(ctx)
		if err != nil {
			return notVerified(err)
		}
		if !parent {
			return ErrParentMissing
		}
		ok, err := w.asker.AskToCreateRemoteDirectory(ctx, w.store.URL(""))
		if err != nil {
			return notVerified(err)
		}
		if !ok {
			return ErrDirectoryDeclined
		}
		if err := w.store.CreateRoot(ctx); err != nil {
			return notVerified(err)
		}
		w.log.Info(ctx, "created remote attachment directory", "url", w.store.URL(""))
	}

	if _, err := w.store.Read(ctx, nonexistentFile); !errors.Is(err, remotefs.ErrNotExist) {
		if err == nil {
			err = errors.New("missing file reported as existing")
		}
		return notVerified(err)
	}

	payload := []byte("1")
	if err := w.store.Write(ctx, testFile, bytes.NewReader(payload), int64(len(payload))); err != nil {
		return notVerified(fmt.Errorf("write test file: %w", err))
	}
	got, err := w.store.Read(ctx, testFile)
	if err != nil {
		return notVerified(fmt.Errorf("read test file: %w", err))
	}
	if !bytes.Equal(got, payload) {
		return fmt.Errorf("%w: test file content mismatch", ErrNotVerified)
	}
	if err := w.store.Remove(ctx, testFile); err != nil {
		return notVerified(fmt.Errorf("delete test file: %w", err))
	}

	w.verified = true
	return nil
}

// notVerified marks err as a failed verification unless it may pass on retry.
func notVerified(err error) error {
	if remotefs.Transient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNotVerified, err)
}

func (w *WebDAVTransport) Upload(ctx context.Context, up *models.AttachmentUpload) (Outcome, error) {
	if err := w.Verify(ctx); err != nil {
		return Outcome{}, err
	}

	props, err := readProperties(ctx, w.store, up.Key)
	if err != nil {
		return Outcome{}, err
	}
	if props != nil && props.Hash == up.MD5 {
		return Outcome{Exists: true, NeedsMetadata: true}, nil
	}
	if props != nil && props.Hash != up.OldMD5 {
		ok, err := w.asker.AskForPermission(ctx,
			fmt.Sprintf("The file %q was changed on the file server by another client. Overwrite it", up.Filename))
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Outcome{}, ErrOverwriteDenied
		}
	}

	f, err := w.storage.Open(up.Path)
	if err != nil {
		return Outcome{}, err
	}
	zipped, err := zipFile(up.Filename, up.Mtime, f)
	_ = f.Close()
	if err != nil {
		return Outcome{}, fmt.Errorf("zip %s: %w", up.Key, err)
	}

	if w.background != nil {
		id, err := w.background.ScheduleWebDAV(ctx, up, zipped, w.store)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Background: true, TaskID: id}, nil
	}

	if err := w.store.Write(ctx, zipName(up.Key), bytes.NewReader(zipped), int64(len(zipped))); err != nil {
		return Outcome{}, err
	}
	if err := writeProperties(ctx, w.store, up.Key, up.Mtime, up.MD5); err != nil {
		return Outcome{}, err
	}
	return Outcome{NeedsMetadata: true}, nil
}

// readProperties returns nil when the sidecar does not exist.
func readProperties(ctx context.Context, store remotefs.Store, key string) (*properties, error) {
	b, err := store.Read(ctx, propName(key))
	if errors.Is(err, remotefs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := decodeProperties(b)
	if err != nil {
		// a broken sidecar is replaced by the next upload
		return nil, nil
	}
	return p, nil
}

func writeProperties(ctx context.Context, store remotefs.Store, key string, mtime int64, hash string) error {
	b := encodeProperties(mtime, hash)
	return store.Write(ctx, propName(key), bytes.NewReader(b), int64(len(b)))
}
