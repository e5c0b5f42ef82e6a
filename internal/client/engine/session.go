package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/attachments"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/libraries"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/refsync/internal/client/repositories/objects"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"github.com/dmitrijs2005/refsync/internal/logging"
)

type session struct {
	c        *Controller
	req      Request
	resolver *Resolver
	log      logging.Logger

	key       *api.KeyInfo
	uploading map[string]bool
	// groups removed remotely that the user chose to keep locally
	kept map[models.LibraryID]bool

	mu        sync.Mutex
	actions   []Action
	writes    int
	libErrors map[models.LibraryID]error
}

func (c *Controller) runSession(ctx context.Context, req Request) Result {
	if req.Type == "" {
		req.Type = SessionNormal
	}
	s := &session{
		c:         c,
		req:       req,
		resolver:  NewResolver(c.maker, c.opts.Backoff),
		log:       c.log.With("session", string(req.Type)),
		uploading: map[string]bool{},
		kept:      map[models.LibraryID]bool{},
		libErrors: map[models.LibraryID]error{},
	}
	if r, ok := c.opts.Files.(interface{ Reset() }); ok {
		r.Reset()
	}

	started := time.Now()
	s.log.Info(ctx, "sync started")
	err := s.run(ctx)
	if errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %w", ErrSessionCanceled, err)
	}

	res := Result{
		Err:           err,
		Actions:       s.actions,
		Conflicts:     s.resolver.Conflicts(),
		RetryDelays:   s.resolver.Delays(),
		Writes:        s.writes,
		LibraryErrors: s.libErrors,
	}
	if err != nil {
		s.log.Error(ctx, "sync failed", "error", err, "elapsed", time.Since(started))
	} else {
		s.log.Info(ctx, "sync finished", "writes", res.Writes, "elapsed", time.Since(started))
	}
	return res
}

func (s *session) run(ctx context.Context) error {
	if err := s.loadPermissions(ctx); err != nil {
		return err
	}
	if err := s.finalizeBackground(ctx); err != nil {
		return err
	}
	if err := s.syncGroups(ctx); err != nil {
		return err
	}

	libs, err := s.c.store.Read().Libraries.All(ctx)
	if err != nil {
		return err
	}
	var failed []error
	for _, lib := range libs {
		if !s.req.Libraries.Includes(lib.ID) || s.kept[lib.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		ls := newLibrarySync(s, lib)
		err := ls.run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrWebDAVDeclined), errors.Is(err, context.Canceled), ctx.Err() != nil:
			return err
		default:
			s.log.Warn(ctx, "library sync failed", "library", lib.ID.String(), "error", err)
			s.mu.Lock()
			s.libErrors[lib.ID] = err
			s.mu.Unlock()
			failed = append(failed, fmt.Errorf("%s: %w", lib.ID, err))
		}
	}

	err = s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		return r.Metadata.SetInt(ctx, metadata.KeyLastSync, time.Now().Unix())
	})
	if err != nil {
		return err
	}
	return errors.Join(failed...)
}

func (s *session) record(a Action) {
	s.mu.Lock()
	s.actions = append(s.actions, a)
	s.mu.Unlock()
}

func (s *session) addWrite() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

// retry runs a request under the backoff schedule for transient failures.
func (s *session) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.resolver.Do(ctx, func(ctx context.Context, _ bool) error {
		return fn(ctx)
	})
}

func (s *session) loadPermissions(ctx context.Context) error {
	s.record(Action{Type: ActionLoadPermissions})
	var key *api.KeyInfo
	err := s.retry(ctx, func(ctx context.Context) (err error) {
		key, err = s.c.api.KeyPermissions(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("load key permissions: %w", err)
	}
	if !key.User.Library {
		return ErrMissingPermissions
	}
	s.key = key

	err = s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		stored, ok, err := r.Metadata.GetInt(ctx, metadata.KeyUserID)
		if err != nil {
			return err
		}
		if ok && stored != key.UserID {
			s.log.Warn(ctx, "api key belongs to another user, clearing local data", "old", stored, "new", key.UserID)
			if err := resetAccount(ctx, r); err != nil {
				return err
			}
		}
		if err := r.Metadata.SetInt(ctx, metadata.KeyUserID, key.UserID); err != nil {
			return err
		}
		if err := r.Metadata.Set(ctx, metadata.KeyUsername, []byte(key.Username)); err != nil {
			return err
		}

		id := models.UserLibrary(key.UserID)
		lib, err := r.Libraries.Get(ctx, id)
		if errors.Is(err, libraries.ErrNotFound) {
			lib, err = &models.Library{ID: id, Name: "My Library"}, nil
		}
		if err != nil {
			return err
		}
		lib.CanEdit, lib.CanEditFiles = key.User.Write, key.User.Write && key.User.Files
		return r.Libraries.Upsert(ctx, lib)
	})
	if err != nil {
		return err
	}
	if bg := s.c.opts.Background; bg != nil {
		bg.SetUserID(key.UserID)
	}
	return nil
}

func resetAccount(ctx context.Context, r store.Repositories) error {
	libs, err := r.Libraries.All(ctx)
	if err != nil {
		return err
	}
	for _, lib := range libs {
		if err := deleteLibrary(ctx, r, lib.ID); err != nil {
			return err
		}
	}
	return r.Metadata.Clear(ctx)
}

func deleteLibrary(ctx context.Context, r store.Repositories, id models.LibraryID) error {
	if err := r.Objects.DeleteLibrary(ctx, id); err != nil {
		return err
	}
	if err := r.Tags.DeleteLibrary(ctx, id); err != nil {
		return err
	}
	return r.Libraries.Delete(ctx, id)
}

// finalizeBackground drops stale background uploads, remembers the ones
// still in flight and applies completions delivered since the last session.
func (s *session) finalizeBackground(ctx context.Context) error {
	bg := s.c.opts.Background
	if bg == nil {
		return nil
	}
	uploading, err := bg.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile background uploads: %w", err)
	}
	s.uploading = uploading

	done, err := bg.Finalize(ctx)
	if err != nil {
		return fmt.Errorf("finalize background uploads: %w", err)
	}
	var keys []string
	for _, f := range done {
		up := f.Upload
		delete(s.uploading, attachments.UploadingKey(up.Library, up.Key))
		keys = append(keys, up.Key)
		if f.Err != nil {
			continue
		}
		if err := s.markFileUploaded(ctx, up.Library, up.Key, up.MD5, up.Mtime, f.NeedsMetadata); err != nil {
			return err
		}
	}
	s.record(Action{Type: ActionFinalizeBackground, Keys: keys})
	return nil
}

// markFileUploaded clears the file change of an attachment and stores the
// uploaded hash and mtime. With asChange the fields are also queued for upload.
func (s *session) markFileUploaded(ctx context.Context, lib models.LibraryID, key, md5 string, mtime int64, asChange bool) error {
	return s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
		rec, err := r.Objects.Get(ctx, lib, key)
		if errors.Is(err, objects.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		it := rec.Item()
		if it == nil {
			return nil
		}
		it.FileChanged = false
		mt := strconv.FormatInt(mtime, 10)
		for name, v := range map[string]string{models.FieldMD5: md5, models.FieldMtime: mt} {
			if it.Fields[name] == v {
				continue
			}
			if asChange {
				it.SetField(name, v)
				rec.Changes |= models.ChangeFields
			} else {
				it.Fields[name] = v
			}
		}
		return r.Objects.Upsert(ctx, rec)
	})
}

func (s *session) syncGroups(ctx context.Context) error {
	s.record(Action{Type: ActionSyncGroups})
	var remote map[int64]int64
	err := s.retry(ctx, func(ctx context.Context) (err error) {
		remote, err = s.c.api.GroupVersions(ctx, s.key.UserID)
		return err
	})
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	for id := range remote {
		if !s.key.GroupAccess(id).Library {
			delete(remote, id)
		}
	}

	locals, err := s.c.store.Read().Libraries.All(ctx)
	if err != nil {
		return err
	}
	known := map[int64]*models.Library{}
	for _, lib := range locals {
		if lib.ID.IsGroup() {
			known[lib.ID.ID] = lib
		}
	}

	for _, id := range slices.Sorted(maps.Keys(remote)) {
		lib := known[id]
		if lib != nil && lib.MetadataVersion >= remote[id] {
			continue
		}
		var g *api.Group
		err := s.retry(ctx, func(ctx context.Context) (err error) {
			g, err = s.c.api.FetchGroup(ctx, id)
			return err
		})
		if err != nil {
			return fmt.Errorf("fetch group %d: %w", id, err)
		}
		if lib == nil {
			lib = &models.Library{ID: models.GroupLibrary(id)}
		}
		lib.Name = g.Name
		lib.MetadataVersion = g.Version
		lib.CanEdit, lib.CanEditFiles = groupRights(s.key, g)
		err = s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
			return r.Libraries.Upsert(ctx, lib)
		})
		if err != nil {
			return err
		}
		s.log.Debug(ctx, "group updated", "group", id, "version", g.Version, "canEdit", lib.CanEdit)
	}

	for _, id := range slices.Sorted(maps.Keys(known)) {
		if _, ok := remote[id]; ok {
			continue
		}
		lib := known[id]
		res, err := s.resolver.Resolve(ctx, models.Conflict{
			Type:      models.ConflictGroupRemoved,
			Library:   lib.ID,
			GroupName: lib.Name,
		})
		if err != nil {
			return err
		}
		if res.Action != models.ResolveDeleteGroup {
			s.kept[lib.ID] = true
			continue
		}
		err = s.c.store.Write(ctx, func(ctx context.Context, r store.Repositories) error {
			return deleteLibrary(ctx, r, lib.ID)
		})
		if err != nil {
			return err
		}
		s.log.Info(ctx, "removed group library", "group", id)
	}
	return nil
}

// groupRights derives editing rights from the key and the group policy.
func groupRights(key *api.KeyInfo, g *api.Group) (canEdit, canEditFiles bool) {
	access := key.GroupAccess(g.ID)
	admin := g.Owner == key.UserID || slices.Contains(g.Admins, key.UserID)

	canEdit = access.Library && access.Write && (g.LibraryEditing == "members" || admin)
	switch g.FileEditing {
	case "members":
		canEditFiles = canEdit && access.Files
	case "admins":
		canEditFiles = canEdit && access.Files && admin
	}
	return canEdit, canEditFiles
}
