package models

// ConflictType names the situations the engine cannot decide alone.
type ConflictType string

const (
	// ConflictRemoteChange: a record with local edits has a newer remote version.
	ConflictRemoteChange ConflictType = "remoteChangeOfChangedObject"
	// ConflictRemovedWithLocalChanges: the server deleted records that have local edits.
	ConflictRemovedWithLocalChanges ConflictType = "removedItemsHaveLocalChanges"
	// ConflictRemovedCollectionHasChangedItems: the server deleted a collection
	// whose member items have local edits.
	ConflictRemovedCollectionHasChangedItems ConflictType = "removedCollectionHasChangedItems"
	// ConflictGroupRemoved: a group library is gone or no longer accessible.
	ConflictGroupRemoved ConflictType = "groupRemoved"
	// ConflictGroupWriteDenied: local edits exist in a library the key cannot write.
	ConflictGroupWriteDenied ConflictType = "groupWriteDenied"
)

// Conflict is handed to the decision-maker.
type Conflict struct {
	Type          ConflictType
	Library       LibraryID
	Kind          Kind
	Keys          []string
	CollectionKey string
	GroupName     string
}

// ResolutionAction is the decision taken for a conflict.
type ResolutionAction string

const (
	ResolveKeepLocal       ResolutionAction = "keepLocal"
	ResolveKeepRemote      ResolutionAction = "keepRemote"
	ResolveRestoreOrDelete ResolutionAction = "restoreOrDelete"
	ResolveDeleteGroup     ResolutionAction = "deleteGroup"
	ResolveKeepGroup       ResolutionAction = "keepGroup"
	ResolveRevertGroup     ResolutionAction = "revertGroupChanges"
	ResolveSkipGroup       ResolutionAction = "skipGroup"
)

// Resolution answers a Conflict. Restore and Delete are used with
// ResolveRestoreOrDelete and partition the conflicting keys.
type Resolution struct {
	Action  ResolutionAction
	Restore []string
	Delete  []string
}
