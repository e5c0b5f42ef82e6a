package models

import "time"

// SyncState tracks how a local record relates to its remote copy.
type SyncState string

const (
	// SyncStateSynced means the record matches the server at Version.
	SyncStateSynced SyncState = "synced"
	// SyncStateDirty marks a record that differs from the server. With
	// pending Changes it carries local edits; without them (a placeholder
	// created for an unknown referenced key, or reverted edits) it is
	// fetched again.
	SyncStateDirty SyncState = "dirty"
	// SyncStateNeedsSync marks a record whose last download failed to parse.
	SyncStateNeedsSync SyncState = "needsSync"
)

// Changes is a bitmask of locally edited field groups.
type Changes uint32

const (
	ChangeName Changes = 1 << iota
	ChangeParent
	ChangeConditions
	ChangeFields
	ChangeType
	ChangeTags
	ChangeCollections
	ChangeTrash
	ChangeCreators
)

// ChangeAll marks every field group as changed; used when a record must be
// recreated remotely.
const ChangeAll = ChangeName | ChangeParent | ChangeConditions | ChangeFields | ChangeType |
	ChangeTags | ChangeCollections | ChangeTrash | ChangeCreators

func (c Changes) Has(bit Changes) bool { return c&bit != 0 }

// AllChangesFor returns the field groups that exist for records of kind k.
func AllChangesFor(k Kind) Changes {
	switch k.Stored() {
	case KindCollection:
		return ChangeName | ChangeParent
	case KindSearch:
		return ChangeName | ChangeConditions
	case KindItem:
		return ChangeFields | ChangeType | ChangeParent | ChangeTags | ChangeCollections | ChangeTrash | ChangeCreators
	default:
		return 0
	}
}

// Record is a collection, search or item persisted locally and synced with
// the server. (Library, Key) is unique across all kinds.
type Record struct {
	Library LibraryID
	Key     string

	// Kind is the stored kind; trashed items are KindItem with ItemPayload.Trash set.
	Kind Kind

	// Version is the server version the record was last reconciled at.
	Version int64

	State   SyncState
	Retries int

	// ParentKey is the parent collection of a collection or the parent item of an item.
	ParentKey string

	// Changes holds the locally edited field groups not yet uploaded.
	Changes Changes

	// Deleted is a local tombstone pending upload.
	Deleted bool

	DateModified time.Time

	Payload Payload
}

// Pending reports whether the record has local edits the server has not seen.
func (r *Record) Pending() bool {
	return r.Changes != 0 || r.Deleted
}

// Item returns the item payload or nil for other kinds.
func (r *Record) Item() *ItemPayload {
	p, _ := r.Payload.(*ItemPayload)
	return p
}

// InTrash reports whether the record is a trashed item.
func (r *Record) InTrash() bool {
	if it := r.Item(); it != nil {
		return it.Trash
	}
	return false
}

// MarkNeedsSync flags a failed download and bumps the retry counter.
func (r *Record) MarkNeedsSync() {
	r.State = SyncStateNeedsSync
	r.Retries++
}

// LocalState is the slice of a record the diff needs.
type LocalState struct {
	Key     string
	Version int64
	State   SyncState
	Pending bool
}
