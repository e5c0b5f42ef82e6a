package engine

import (
	"context"
	"slices"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/store"
)

// applyDeletions removes records deleted remotely. Records with local edits
// and collections whose member items have local edits are passed to the
// decision maker instead.
func (l *librarySync) applyDeletions(ctx context.Context, log *api.DeletionLog) error {
	for _, kind := range models.WriteKinds {
		keys := slices.Clone(log.Keys(kind))
		if len(keys) == 0 {
			continue
		}
		slices.Sort(keys)
		if err := l.applyKindDeletions(ctx, kind, keys); err != nil {
			return err
		}
	}
	if len(log.Tags) > 0 {
		return l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
			return r.Tags.Delete(ctx, l.lib.ID, log.Tags)
		})
	}
	return nil
}

func (l *librarySync) applyKindDeletions(ctx context.Context, kind models.Kind, keys []string) error {
	read := l.s.c.store.Read().Objects
	locals, err := read.GetMany(ctx, l.lib.ID, keys)
	if err != nil {
		return err
	}

	var (
		remove  []*models.Record
		restore []*models.Record
		changed []*models.Record
	)
	for _, key := range keys {
		rec := locals[key]
		switch {
		case rec == nil:
		case rec.Deleted:
			remove = append(remove, rec)
		case rec.Pending():
			changed = append(changed, rec)
		case kind == models.KindCollection:
			members, err := read.MemberItems(ctx, l.lib.ID, key)
			if err != nil {
				return err
			}
			var edited []string
			for _, m := range members {
				if m.Pending() {
					edited = append(edited, m.Key)
				}
			}
			if len(edited) == 0 {
				remove = append(remove, rec)
				continue
			}
			res, err := l.s.resolver.Resolve(ctx, models.Conflict{
				Type:          models.ConflictRemovedCollectionHasChangedItems,
				Library:       l.lib.ID,
				Kind:          kind,
				Keys:          edited,
				CollectionKey: key,
			})
			if err != nil {
				return err
			}
			if keepsKey(res, key) {
				restore = append(restore, rec)
			} else {
				remove = append(remove, rec)
			}
		default:
			remove = append(remove, rec)
		}
	}

	if len(changed) > 0 {
		ck := make([]string, 0, len(changed))
		for _, rec := range changed {
			ck = append(ck, rec.Key)
		}
		res, err := l.s.resolver.Resolve(ctx, models.Conflict{
			Type:    models.ConflictRemovedWithLocalChanges,
			Library: l.lib.ID,
			Kind:    kind,
			Keys:    ck,
		})
		if err != nil {
			return err
		}
		for _, rec := range changed {
			if keepsKey(res, rec.Key) {
				restore = append(restore, rec)
			} else {
				remove = append(remove, rec)
			}
		}
	}

	err = l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		for _, rec := range restore {
			markRecreate(rec)
			if err := r.Objects.Upsert(ctx, rec); err != nil {
				return err
			}
		}
		for _, rec := range remove {
			if err := l.removeRecord(ctx, r, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, rec := range remove {
		l.removeFile(ctx, rec)
	}
	if len(remove) > 0 {
		l.log.Debug(ctx, "applied remote deletions", "kind", kind, "removed", len(remove), "restored", len(restore))
	}
	return nil
}

// keepsKey reports whether a resolution restores key. Without an explicit
// partition keepLocal restores and anything else deletes.
func keepsKey(res models.Resolution, key string) bool {
	switch {
	case slices.Contains(res.Restore, key):
		return true
	case slices.Contains(res.Delete, key):
		return false
	default:
		return res.Action == models.ResolveKeepLocal
	}
}

// removeRecord deletes rec. A collection is removed from its member items
// and its subcollections lose their parent; items are never cascaded.
func (l *librarySync) removeRecord(ctx context.Context, r store.Repositories, rec *models.Record) error {
	if rec.Kind == models.KindCollection {
		members, err := r.Objects.MemberItems(ctx, l.lib.ID, rec.Key)
		if err != nil {
			return err
		}
		for _, m := range members {
			m.Item().RemoveCollection(rec.Key)
			if m.Pending() {
				m.Changes |= models.ChangeCollections
			}
			if err := r.Objects.Upsert(ctx, m); err != nil {
				return err
			}
		}
		children, err := r.Objects.Children(ctx, l.lib.ID, rec.Key)
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.Kind != models.KindCollection {
				continue
			}
			c.ParentKey = ""
			if err := r.Objects.Upsert(ctx, c); err != nil {
				return err
			}
		}
	}
	return r.Objects.Delete(ctx, l.lib.ID, rec.Key)
}

func (l *librarySync) removeFile(ctx context.Context, rec *models.Record) {
	storage := l.s.c.opts.Storage
	it := rec.Item()
	if storage == nil || it == nil || !it.IsStoredFile() || it.Fields[models.FieldFilename] == "" {
		return
	}
	path := storage.Path(l.lib.ID, rec.Key, it.Fields[models.FieldFilename])
	if err := storage.Remove(path); err != nil {
		l.log.Warn(ctx, "failed to remove attachment file", "key", rec.Key, "error", err)
	}
}
