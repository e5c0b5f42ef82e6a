package engine

import (
	"slices"
	"strings"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/attachments"
	"github.com/dmitrijs2005/refsync/internal/client/models"
)

// WriteBatch is one write request: objects of one kind planned against Version.
type WriteBatch struct {
	Kind    models.Kind
	Version int64
	Keys    []string
	Objects []api.WriteObject
}

// DeletionBatch lists tombstones of one kind.
type DeletionBatch struct {
	Kind models.Kind
	Keys []string
}

// PlanWrites turns pending records into write batches: kinds in upload
// order, parents before children, otherwise oldest edit first.
func PlanWrites(records []*models.Record, version int64, batchSize int) []WriteBatch {
	if batchSize <= 0 {
		batchSize = 50
	}
	byKind := map[models.Kind][]*models.Record{}
	for _, rec := range records {
		if rec.Deleted || rec.Changes == 0 {
			continue
		}
		k := rec.Kind.Stored()
		byKind[k] = append(byKind[k], rec)
	}

	var batches []WriteBatch
	for _, kind := range models.WriteKinds {
		ordered := orderForUpload(byKind[kind])
		for chunk := range slices.Chunk(ordered, batchSize) {
			b := WriteBatch{Kind: kind, Version: version}
			for _, rec := range chunk {
				b.Keys = append(b.Keys, rec.Key)
				b.Objects = append(b.Objects, writeObject(rec))
			}
			batches = append(batches, b)
		}
	}
	return batches
}

// PlanDeletions groups tombstones per kind in upload order.
func PlanDeletions(records []*models.Record) []DeletionBatch {
	byKind := map[models.Kind][]string{}
	for _, rec := range records {
		if rec.Deleted {
			byKind[rec.Kind.Stored()] = append(byKind[rec.Kind.Stored()], rec.Key)
		}
	}
	var out []DeletionBatch
	for _, kind := range models.WriteKinds {
		if keys := byKind[kind]; len(keys) > 0 {
			slices.Sort(keys)
			out = append(out, DeletionBatch{Kind: kind, Keys: keys})
		}
	}
	return out
}

// PlanAttachments returns stored-file attachments whose file changed, whose
// metadata is already on the server and that are not uploading in the background.
func PlanAttachments(records []*models.Record, uploading map[string]bool) []*models.Record {
	var out []*models.Record
	for _, rec := range records {
		it := rec.Item()
		if it == nil || !it.FileChanged || rec.Pending() || !it.IsStoredFile() {
			continue
		}
		if uploading[attachments.UploadingKey(rec.Library, rec.Key)] {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func byDateThenKey(a, b *models.Record) int {
	if c := a.DateModified.Compare(b.DateModified); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}

// orderForUpload emits, at every step, the oldest record whose parent is
// not waiting in the same set.
func orderForUpload(recs []*models.Record) []*models.Record {
	sorted := slices.Clone(recs)
	slices.SortFunc(sorted, byDateThenKey)

	waiting := make(map[string]bool, len(sorted))
	for _, r := range sorted {
		waiting[r.Key] = true
	}
	out := make([]*models.Record, 0, len(sorted))
	for len(out) < len(sorted) {
		next := -1
		for i, r := range sorted {
			if !waiting[r.Key] {
				continue
			}
			if next < 0 {
				// fallback for parent cycles
				next = i
			}
			if r.ParentKey == "" || r.ParentKey == r.Key || !waiting[r.ParentKey] {
				next = i
				break
			}
		}
		r := sorted[next]
		delete(waiting, r.Key)
		out = append(out, r)
	}
	return out
}

// writeObject builds the request body of rec: key, version and the changed
// fields. Records never synced send everything.
func writeObject(rec *models.Record) api.WriteObject {
	obj := api.WriteObject{"key": rec.Key, "version": rec.Version}
	changes := rec.Changes
	if rec.Version == 0 {
		changes = models.AllChangesFor(rec.Kind)
	}

	switch p := rec.Payload.(type) {
	case *models.CollectionPayload:
		if changes.Has(models.ChangeName) {
			obj["name"] = p.Name
		}
		if changes.Has(models.ChangeParent) {
			obj["parentCollection"] = keyOrFalseValue(rec.ParentKey)
		}
	case *models.SearchPayload:
		if changes.Has(models.ChangeName) {
			obj["name"] = p.Name
		}
		if changes.Has(models.ChangeConditions) {
			obj["conditions"] = nonNil(p.Conditions)
		}
	case *models.ItemPayload:
		obj["itemType"] = p.ItemType
		if changes.Has(models.ChangeFields) {
			names := p.ChangedKeys
			if rec.Version == 0 || len(names) == 0 {
				names = nil
				for name := range p.Fields {
					names = append(names, name)
				}
			}
			for _, name := range names {
				if v, ok := p.Fields[name]; ok {
					obj[name] = v
				}
			}
		}
		if changes.Has(models.ChangeParent) && rec.ParentKey != "" {
			obj["parentItem"] = rec.ParentKey
		} else if changes.Has(models.ChangeParent) && rec.Version > 0 {
			obj["parentItem"] = false
		}
		if changes.Has(models.ChangeCreators) {
			obj["creators"] = nonNil(p.Creators)
		}
		if changes.Has(models.ChangeTags) {
			obj["tags"] = nonNil(p.Tags)
		}
		if changes.Has(models.ChangeCollections) {
			obj["collections"] = nonNil(p.Collections)
		}
		if changes.Has(models.ChangeTrash) {
			obj["deleted"] = p.Trash
		}
	}
	return obj
}

func keyOrFalseValue(key string) any {
	if key == "" {
		return false
	}
	return key
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
