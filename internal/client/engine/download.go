package engine

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/objects"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"golang.org/x/sync/errgroup"
)

// downloadAndStore fetches keys of kind in concurrent batches and stores
// each batch in its own transaction. A batch that keeps failing marks its
// keys for another attempt and the library goes on.
func (l *librarySync) downloadAndStore(ctx context.Context, kind models.Kind, keys []string) error {
	opts := l.s.c.opts
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.DownloadConcurrency)

	var mu sync.Mutex
	var restored []string
	for batch := range slices.Chunk(keys, opts.DownloadBatchSize) {
		g.Go(func() error {
			var objs []json.RawMessage
			err := l.s.retry(gctx, func(ctx context.Context) (err error) {
				objs, _, err = l.s.c.api.FetchObjects(ctx, l.lib.ID, kind, batch)
				return err
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.log.Warn(gctx, "batch download failed", "kind", kind, "keys", len(batch), "error", err)
				return l.markNeedsSync(gctx, kind, batch)
			}
			r, err := l.storeBatch(gctx, kind, batch, objs)
			if err != nil {
				return err
			}
			mu.Lock()
			restored = append(restored, r...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slices.Sort(restored)
	for _, key := range restored {
		if err := l.reassociate(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// storeBatch parses and stores one downloaded batch. It returns keys of
// locally deleted collections that were restored by a newer remote version.
func (l *librarySync) storeBatch(ctx context.Context, kind models.Kind, requested []string, raws []json.RawMessage) ([]string, error) {
	var (
		parsed   []*parsedObject
		rejected []*ParseError
	)
	keys := map[string]bool{}
	for _, raw := range raws {
		p, err := parseObject(raw, kind, l.lib.ID, l.s.c.schema)
		var pe *ParseError
		if errors.As(err, &pe) {
			l.log.Warn(ctx, "rejected downloaded object", "kind", kind, "key", pe.Key, "error", pe.Err)
			rejected = append(rejected, pe)
			if pe.Key != "" {
				keys[pe.Key] = true
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
		keys[p.Record.Key] = true
	}

	existing, err := l.s.c.store.Read().Objects.GetMany(ctx, l.lib.ID, slices.Collect(maps.Keys(keys)))
	if err != nil {
		return nil, err
	}

	// decisions are taken before the transaction
	var (
		apply    []*parsedObject
		keep     []*models.Record
		restored []string
	)
	for _, p := range parsed {
		rec, local := p.Record, existing[p.Record.Key]
		switch {
		case local == nil || !local.Pending():
			apply = append(apply, p)
		case local.Kind == models.KindCollection && local.Deleted && rec.Version > local.Version:
			l.log.Info(ctx, "restoring collection edited remotely", "key", rec.Key)
			apply = append(apply, p)
			restored = append(restored, rec.Key)
		case rec.Version <= local.Version:
			// nothing new remotely, local edits stay queued
		default:
			res, err := l.s.resolver.Resolve(ctx, models.Conflict{
				Type:    models.ConflictRemoteChange,
				Library: l.lib.ID,
				Kind:    kind,
				Keys:    []string{rec.Key},
			})
			if err != nil {
				return nil, err
			}
			if res.Action == models.ResolveKeepRemote {
				apply = append(apply, p)
				continue
			}
			// local copy wins over the newer remote version
			local.Version = rec.Version
			if !local.Deleted {
				local.Changes = models.AllChangesFor(local.Kind)
				if it := local.Item(); it != nil {
					it.ChangedKeys = nil
				}
			}
			keep = append(keep, local)
		}
	}

	inBatch := make(map[string]bool, len(requested))
	for _, k := range requested {
		inBatch[k] = true
	}

	var stored []string
	err = l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		for _, p := range apply {
			rec := p.Record
			if local := existing[rec.Key]; local != nil {
				l.moveFile(ctx, local, rec)
				if li, ri := local.Item(), rec.Item(); li != nil && ri != nil && li.FileChanged {
					ri.FileChanged = true
				}
			}
			if err := l.ensureReferences(ctx, r, rec, inBatch); err != nil {
				return err
			}
			if err := r.Objects.Upsert(ctx, rec); err != nil {
				return err
			}
			if len(p.Tags) > 0 {
				if err := r.Tags.Ensure(ctx, l.lib.ID, p.Tags); err != nil {
					return err
				}
			}
			stored = append(stored, rec.Key)
		}
		for _, rec := range keep {
			if err := r.Objects.Upsert(ctx, rec); err != nil {
				return err
			}
		}
		for _, pe := range rejected {
			if pe.Key == "" {
				continue
			}
			rec := existing[pe.Key]
			if rec == nil {
				rec = &models.Record{Library: l.lib.ID, Key: pe.Key, Kind: kind.Stored()}
			}
			rec.MarkNeedsSync()
			if err := r.Objects.Upsert(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.s.record(Action{Type: ActionStoreBatch, Library: l.lib.ID, Kind: kind, Keys: stored})

	var absent []string
	for _, k := range requested {
		if !keys[k] {
			absent = append(absent, k)
		}
	}
	if len(absent) > 0 {
		l.log.Warn(ctx, "requested objects missing from response", "kind", kind, "keys", absent)
		if err := l.markNeedsSync(ctx, kind, absent); err != nil {
			return nil, err
		}
	}
	return restored, nil
}

// ensureReferences creates dirty placeholders for referenced keys that are
// neither stored nor part of the batch.
func (l *librarySync) ensureReferences(ctx context.Context, r store.Repositories, rec *models.Record, inBatch map[string]bool) error {
	type ref struct {
		key  string
		kind models.Kind
	}
	var refs []ref
	switch rec.Kind {
	case models.KindCollection:
		refs = append(refs, ref{rec.ParentKey, models.KindCollection})
	case models.KindItem:
		refs = append(refs, ref{rec.ParentKey, models.KindItem})
		if it := rec.Item(); it != nil {
			for _, c := range it.Collections {
				refs = append(refs, ref{c, models.KindCollection})
			}
		}
	}
	for _, ref := range refs {
		if ref.key == "" || ref.key == rec.Key || inBatch[ref.key] {
			continue
		}
		_, err := r.Objects.Get(ctx, l.lib.ID, ref.key)
		if err == nil {
			continue
		}
		if !errors.Is(err, objects.ErrNotFound) {
			return err
		}
		l.log.Debug(ctx, "creating placeholder", "key", ref.key, "kind", ref.kind, "referencedBy", rec.Key)
		err = r.Objects.Upsert(ctx, &models.Record{
			Library: l.lib.ID,
			Key:     ref.key,
			Kind:    ref.kind,
			State:   models.SyncStateDirty,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// moveFile renames the local attachment file when the filename changed remotely.
func (l *librarySync) moveFile(ctx context.Context, local, remote *models.Record) {
	storage := l.s.c.opts.Storage
	li, ri := local.Item(), remote.Item()
	if storage == nil || li == nil || ri == nil || !li.IsStoredFile() {
		return
	}
	from, to := li.Fields[models.FieldFilename], ri.Fields[models.FieldFilename]
	if from == "" || to == "" || from == to {
		return
	}
	if err := storage.Rename(l.lib.ID, local.Key, from, to); err != nil {
		l.log.Warn(ctx, "failed to rename attachment file", "key", local.Key, "from", from, "to", to, "error", err)
		return
	}
	l.log.Debug(ctx, "renamed attachment file", "key", local.Key, "from", from, "to", to)
}

// markNeedsSync flags keys of a failed batch so the next pass fetches them again.
func (l *librarySync) markNeedsSync(ctx context.Context, kind models.Kind, keys []string) error {
	return l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		recs, err := r.Objects.GetMany(ctx, l.lib.ID, keys)
		if err != nil {
			return err
		}
		for _, key := range keys {
			rec := recs[key]
			if rec == nil {
				rec = &models.Record{Library: l.lib.ID, Key: key, Kind: kind.Stored()}
			} else if rec.Pending() {
				continue
			}
			rec.MarkNeedsSync()
			if err := r.Objects.Upsert(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// reassociate adds a restored collection back to the items that are in it
// remotely. Unknown items become placeholders.
func (l *librarySync) reassociate(ctx context.Context, collectionKey string) error {
	var keys []string
	err := l.s.retry(ctx, func(ctx context.Context) (err error) {
		keys, err = l.s.c.api.CollectionItemKeys(ctx, l.lib.ID, collectionKey)
		return err
	})
	if err != nil {
		return err
	}
	err = l.s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		items, err := r.Objects.GetMany(ctx, l.lib.ID, keys)
		if err != nil {
			return err
		}
		for _, key := range keys {
			rec := items[key]
			if rec == nil {
				rec = &models.Record{
					Library: l.lib.ID,
					Key:     key,
					Kind:    models.KindItem,
					State:   models.SyncStateDirty,
					Payload: &models.ItemPayload{Fields: map[string]string{}, Collections: []string{collectionKey}},
				}
			} else if it := rec.Item(); it == nil || it.HasCollection(collectionKey) {
				continue
			} else {
				it.Collections = append(it.Collections, collectionKey)
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
	l.s.record(Action{Type: ActionRestoreCollection, Library: l.lib.ID, Kind: models.KindCollection, Keys: []string{collectionKey}})
	return nil
}
