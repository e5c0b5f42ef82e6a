package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"github.com/dmitrijs2005/refsync/internal/logging"
)

// librarySync runs the phases of one library. Phases are sequential; only
// batch fetches inside a phase run concurrently.
type librarySync struct {
	s   *session
	lib *models.Library
	log logging.Logger

	// clean keys absent from a full listing, per stored kind
	missing map[models.Kind][]string
	// keys of the trash listing; the items listing leaves them out
	trashed    map[string]bool
	skipWrites bool

	// attempted is set when a write was tried, reached when one got through
	attempted bool
	reached   bool
}

func newLibrarySync(s *session, lib *models.Library) *librarySync {
	return &librarySync{
		s:       s,
		lib:     lib,
		log:     s.log.With("library", lib.ID.String()),
		missing: map[models.Kind][]string{},
		trashed: map[string]bool{},
	}
}

func (l *librarySync) run(ctx context.Context) error {
	if err := l.checkWriteAccess(ctx); err != nil {
		return err
	}
	if err := l.download(ctx, l.s.req.Type == SessionFull); err != nil {
		return err
	}
	if err := l.markMissing(ctx); err != nil {
		return err
	}
	if l.skipWrites {
		return nil
	}

	uploadErr := l.upload(ctx)
	if errors.Is(uploadErr, ErrWebDAVDeclined) || ctx.Err() != nil {
		return uploadErr
	}
	if l.attempted && !l.reached {
		l.log.Info(ctx, "no write reached the server, downloading again")
		l.s.record(Action{Type: ActionForcedDownload, Library: l.lib.ID})
		if err := l.download(ctx, false); err != nil {
			return errors.Join(uploadErr, err)
		}
	}
	return uploadErr
}

// checkWriteAccess handles local edits in a library the key cannot write.
func (l *librarySync) checkWriteAccess(ctx context.Context) error {
	if l.lib.CanEdit {
		return nil
	}
	l.skipWrites = true
	pending, err := l.s.c.store.Read().Objects.Pending(ctx, l.lib.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(pending))
	for _, rec := range pending {
		keys = append(keys, rec.Key)
	}
	res, err := l.s.resolver.Resolve(ctx, models.Conflict{
		Type:      models.ConflictGroupWriteDenied,
		Library:   l.lib.ID,
		Keys:      keys,
		GroupName: l.lib.Name,
	})
	if err != nil {
		return err
	}
	if res.Action != models.ResolveRevertGroup {
		l.log.Info(ctx, "keeping local changes of read-only library", "records", len(keys))
		return nil
	}

	err = l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		for _, rec := range pending {
			if rec.Version == 0 {
				if err := r.Objects.Delete(ctx, rec.Library, rec.Key); err != nil {
					return err
				}
				continue
			}
			// refetched by the download pass below
			rec.Changes, rec.Deleted, rec.State = 0, false, models.SyncStateDirty
			if it := rec.Item(); it != nil {
				it.ChangedKeys, it.FileChanged = nil, false
			}
			if err := r.Objects.Upsert(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.s.record(Action{Type: ActionRevertLibrary, Library: l.lib.ID, Keys: keys})
	return nil
}

// download runs settings, version listings with batch downloads for every
// kind, and the deletion log.
func (l *librarySync) download(ctx context.Context, full bool) error {
	if err := l.syncSettings(ctx, full); err != nil {
		return err
	}
	for _, kind := range models.SyncKinds {
		if err := l.syncVersions(ctx, kind, full); err != nil {
			return err
		}
	}
	return l.syncDeletions(ctx, full)
}

func (l *librarySync) since(kind models.Kind, full bool) int64 {
	if full {
		return 0
	}
	return l.lib.Versions.Get(kind)
}

func (l *librarySync) saveVersions(ctx context.Context) error {
	return l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		return r.Libraries.SetVersions(ctx, l.lib.ID, l.lib.Versions)
	})
}

// advance moves every counter to version after a write the server accepted
// against the current library version.
func (l *librarySync) advance(version int64) {
	for _, k := range []models.Kind{models.KindCollection, models.KindSearch, models.KindItem, models.KindTrash, models.KindSettings} {
		l.lib.Versions.Set(k, version)
	}
	l.lib.Versions.SetDeletions(version)
}

func (l *librarySync) syncSettings(ctx context.Context, full bool) error {
	l.s.record(Action{Type: ActionSyncSettings, Library: l.lib.ID, Kind: models.KindSettings})
	var st *api.Settings
	err := l.s.retry(ctx, func(ctx context.Context) (err error) {
		st, err = l.s.c.api.FetchSettings(ctx, l.lib.ID, l.since(models.KindSettings, full))
		return err
	})
	if errors.Is(err, api.ErrNotModified) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch settings: %w", err)
	}

	l.lib.Versions.Set(models.KindSettings, st.Version)
	return l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		if err := r.Tags.SetColors(ctx, l.lib.ID, st.TagColors); err != nil {
			return err
		}
		return r.Libraries.SetVersions(ctx, l.lib.ID, l.lib.Versions)
	})
}

func (l *librarySync) syncVersions(ctx context.Context, kind models.Kind, full bool) error {
	l.s.record(Action{Type: ActionSyncVersions, Library: l.lib.ID, Kind: kind})
	var (
		remote     map[string]int64
		libVersion int64
	)
	err := l.s.retry(ctx, func(ctx context.Context) (err error) {
		remote, libVersion, err = l.s.c.api.ListVersions(ctx, l.lib.ID, kind, l.since(kind, full))
		return err
	})
	listed := err == nil

	var keys []string
	switch {
	case errors.Is(err, api.ErrNotModified):
		if kind == models.KindTrash {
			return nil
		}
		if keys, err = l.s.c.store.Read().Objects.Unsynced(ctx, l.lib.ID, kind); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("list %s versions: %w", kind, err)
	default:
		states, err := l.s.c.store.Read().Objects.States(ctx, l.lib.ID, kind)
		if err != nil {
			return err
		}
		local := statesByKey(states)
		if kind == models.KindTrash {
			// local trash state may be stale; only compare what is listed here
			for key := range local {
				if _, ok := remote[key]; !ok {
					delete(local, key)
				}
			}
			for key := range remote {
				l.trashed[key] = true
			}
		}
		diff := Diff(local, remote, full && kind != models.KindTrash)
		keys = diff.Download
		l.missing[kind.Stored()] = append(l.missing[kind.Stored()], diff.Missing...)
		if len(diff.ConflictingDeletes) > 0 {
			l.log.Info(ctx, "records with local edits are missing remotely, keeping them for upload",
				"kind", kind, "keys", diff.ConflictingDeletes)
		}
	}

	if len(keys) > 0 {
		if err := l.downloadAndStore(ctx, kind, keys); err != nil {
			return err
		}
	}
	if !listed {
		return nil
	}
	l.lib.Versions.Set(kind, libVersion)
	return l.saveVersions(ctx)
}

func (l *librarySync) syncDeletions(ctx context.Context, full bool) error {
	l.s.record(Action{Type: ActionSyncDeletions, Library: l.lib.ID})
	since := l.lib.Versions.Deletions
	if full {
		since = 0
	}
	var log *api.DeletionLog
	err := l.s.retry(ctx, func(ctx context.Context) (err error) {
		log, err = l.s.c.api.FetchDeletionLog(ctx, l.lib.ID, since)
		return err
	})
	if errors.Is(err, api.ErrNotModified) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch deletion log: %w", err)
	}
	if err := l.applyDeletions(ctx, log); err != nil {
		return err
	}
	l.lib.Versions.SetDeletions(log.Version)
	return l.saveVersions(ctx)
}

// markMissing queues clean records that a full listing did not contain and
// the deletion log did not remove: they are recreated remotely.
func (l *librarySync) markMissing(ctx context.Context) error {
	for _, kind := range models.WriteKinds {
		keys := l.missing[kind]
		if kind == models.KindItem {
			keys = slices.DeleteFunc(slices.Clone(keys), func(k string) bool { return l.trashed[k] })
		}
		if len(keys) == 0 {
			continue
		}
		var marked []string
		err := l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
			recs, err := r.Objects.GetMany(ctx, l.lib.ID, keys)
			if err != nil {
				return err
			}
			for _, key := range keys {
				rec := recs[key]
				if rec == nil || rec.Pending() {
					continue
				}
				markRecreate(rec)
				if err := r.Objects.Upsert(ctx, rec); err != nil {
					return err
				}
				marked = append(marked, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(marked) > 0 {
			l.s.record(Action{Type: ActionMarkForUpload, Library: l.lib.ID, Kind: kind, Keys: marked})
		}
	}
	l.missing = map[models.Kind][]string{}
	l.trashed = map[string]bool{}
	return nil
}

// markRecreate queues every field of rec for upload as a new object.
func markRecreate(rec *models.Record) {
	rec.Changes = models.AllChangesFor(rec.Kind)
	// the server no longer knows the key, so it is written as a new object
	rec.Version = 0
	rec.Deleted = false
	rec.State = models.SyncStateSynced
	rec.Retries = 0
	if it := rec.Item(); it != nil {
		it.ChangedKeys = nil
	}
}
