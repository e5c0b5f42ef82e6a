package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/attachments"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/refsync/internal/client/store"
)

// upload writes local edits and tombstones, then attachment files. Writes
// rejected for a stale version are retried after a fresh download.
func (l *librarySync) upload(ctx context.Context) error {
	if err := l.uploadMetadata(ctx); err != nil {
		return err
	}
	needsMetadata, err := l.uploadAttachments(ctx)
	if err != nil {
		return err
	}
	if needsMetadata {
		return l.uploadMetadata(ctx)
	}
	return nil
}

func (l *librarySync) uploadMetadata(ctx context.Context) error {
	return l.s.resolver.Do(ctx, func(ctx context.Context, refresh bool) error {
		if refresh {
			l.log.Info(ctx, "library changed remotely, downloading before the next write")
			if err := l.download(ctx, false); err != nil {
				return err
			}
		}
		if err := l.writeChanges(ctx); err != nil {
			return err
		}
		return l.writeDeletions(ctx)
	})
}

func (l *librarySync) writeChanges(ctx context.Context) error {
	pending, err := l.s.c.store.Read().Objects.Pending(ctx, l.lib.ID)
	if err != nil {
		return err
	}
	stale := false
	for _, b := range PlanWrites(pending, l.lib.Versions.Max(), l.s.c.opts.WriteBatchSize) {
		l.attempted = true
		// earlier batches advanced the library version
		b.Version = l.lib.Versions.Max()
		res, err := l.s.c.api.WriteBatch(ctx, l.lib.ID, b.Kind, b.Version, b.Objects)
		if err != nil {
			l.reached = l.reached || answered(err)
			return fmt.Errorf("write %s batch: %w", b.Kind, err)
		}
		l.reached = true
		l.s.addWrite()

		for _, f := range res.Failed {
			l.log.Warn(ctx, "object rejected by server", "kind", b.Kind, "key", f.Key, "code", f.Code, "message", f.Message)
			if f.Code == 412 {
				stale = true
			}
		}
		accepted := append(slices.Clone(res.Successful), res.Unchanged...)
		l.advance(res.Version)
		err = l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
			recs, err := r.Objects.GetMany(ctx, l.lib.ID, accepted)
			if err != nil {
				return err
			}
			for _, key := range accepted {
				rec := recs[key]
				if rec == nil {
					continue
				}
				rec.Changes = 0
				rec.Version = res.Version
				rec.State = models.SyncStateSynced
				rec.Retries = 0
				if it := rec.Item(); it != nil {
					it.ChangedKeys = nil
				}
				if err := r.Objects.Upsert(ctx, rec); err != nil {
					return err
				}
			}
			return r.Libraries.SetVersions(ctx, l.lib.ID, l.lib.Versions)
		})
		if err != nil {
			return err
		}
		l.s.record(Action{Type: ActionUploadBatch, Library: l.lib.ID, Kind: b.Kind, Keys: b.Keys})
	}
	if stale {
		return fmt.Errorf("objects out of date: %w", api.ErrPreconditionFailed)
	}
	return nil
}

func (l *librarySync) writeDeletions(ctx context.Context) error {
	pending, err := l.s.c.store.Read().Objects.Pending(ctx, l.lib.ID)
	if err != nil {
		return err
	}
	for _, b := range PlanDeletions(pending) {
		l.attempted = true
		for chunk := range slices.Chunk(b.Keys, l.s.c.opts.WriteBatchSize) {
			version, err := l.s.c.api.SubmitDeletions(ctx, l.lib.ID, b.Kind, l.lib.Versions.Max(), chunk)
			if err != nil {
				l.reached = l.reached || answered(err)
				return fmt.Errorf("delete %s: %w", b.Kind, err)
			}
			l.reached = true
			l.s.addWrite()
			l.advance(version)
			err = l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
				for _, key := range chunk {
					if err := r.Objects.Delete(ctx, l.lib.ID, key); err != nil {
						return err
					}
				}
				return r.Libraries.SetVersions(ctx, l.lib.ID, l.lib.Versions)
			})
			if err != nil {
				return err
			}
			l.s.record(Action{Type: ActionSubmitDeletions, Library: l.lib.ID, Kind: b.Kind, Keys: chunk})
		}
	}
	return nil
}

// answered reports whether a failed write got an answer from the server.
func answered(err error) bool {
	var se *api.StatusError
	return errors.As(err, &se) ||
		errors.Is(err, api.ErrPreconditionFailed) ||
		errors.Is(err, api.ErrUnauthorized) ||
		errors.Is(err, api.ErrNotFound)
}

// verifier is implemented by transports that check their store once per session.
type verifier interface {
	Verify(ctx context.Context) error
}

// uploadAttachments transfers changed attachment files. A local file error
// skips that attachment only; an unusable file store stops the session. It
// reports whether uploaded files left item metadata to upload.
func (l *librarySync) uploadAttachments(ctx context.Context) (bool, error) {
	opts := l.s.c.opts
	if opts.Files == nil || opts.Uploader == nil || !l.lib.CanEditFiles {
		return false, nil
	}
	recs, err := l.s.c.store.Read().Objects.PendingFiles(ctx, l.lib.ID)
	if err != nil {
		return false, err
	}
	if len(recs) > 0 {
		// counts even when every file is already uploading in the background
		l.attempted = true
	}
	planned := PlanAttachments(recs, l.s.uploading)
	if len(planned) == 0 {
		return false, nil
	}

	if v, ok := opts.Files.(verifier); ok {
		if err := v.Verify(ctx); err != nil {
			if errors.Is(err, attachments.ErrNotVerified) {
				return false, fmt.Errorf("%w: %w", ErrWebDAVDeclined, err)
			}
			return false, fmt.Errorf("verify file store: %w", err)
		}
		err := l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
			return r.Metadata.SetInt(ctx, metadata.KeyWebDAVVerified, 1)
		})
		if err != nil {
			return false, err
		}
	}

	var (
		needsMetadata bool
		failed        []error
	)
	for _, rec := range planned {
		up, err := opts.Uploader.Prepare(rec)
		if err != nil {
			l.log.Warn(ctx, "attachment skipped", "key", rec.Key, "error", err)
			continue
		}

		out, err := opts.Files.Upload(ctx, up)
		if out.Reached {
			l.reached = true
		}
		switch {
		case err == nil:
		case errors.Is(err, attachments.ErrNotVerified):
			return needsMetadata, fmt.Errorf("%w: %w", ErrWebDAVDeclined, err)
		case ctx.Err() != nil:
			return needsMetadata, ctx.Err()
		case errors.Is(err, attachments.ErrOverwriteDenied), errors.Is(err, attachments.ErrFileNotFound):
			l.log.Info(ctx, "attachment skipped", "key", rec.Key, "error", err)
			continue
		default:
			l.log.Warn(ctx, "attachment upload failed", "key", rec.Key, "error", err)
			failed = append(failed, fmt.Errorf("upload %s: %w", rec.Key, err))
			continue
		}
		l.s.record(Action{Type: ActionUploadAttachment, Library: l.lib.ID, Kind: models.KindItem, Keys: []string{rec.Key}})

		if out.Background {
			l.s.uploading[attachments.UploadingKey(l.lib.ID, rec.Key)] = true
			continue
		}
		if !out.Exists {
			l.s.addWrite()
		}
		if out.NeedsMetadata {
			needsMetadata = true
		}
		if err := l.s.markFileUploaded(ctx, l.lib.ID, rec.Key, up.MD5, up.Mtime, out.NeedsMetadata); err != nil {
			return needsMetadata, err
		}
	}
	return needsMetadata, errors.Join(failed...)
}
