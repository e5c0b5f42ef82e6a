package engine

import (
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

// ActionType names a step of a session in the action log.
type ActionType string

const (
	ActionLoadPermissions    ActionType = "loadKeyPermissions"
	ActionFinalizeBackground ActionType = "finalizeBackgroundUploads"
	ActionSyncGroups         ActionType = "syncGroupVersions"
	ActionSyncSettings       ActionType = "syncSettings"
	ActionSyncVersions       ActionType = "syncVersions"
	ActionStoreBatch         ActionType = "storeBatch"
	ActionRestoreCollection  ActionType = "restoreCollection"
	ActionSyncDeletions      ActionType = "syncDeletions"
	ActionMarkForUpload      ActionType = "markForUpload"
	ActionUploadBatch        ActionType = "uploadBatch"
	ActionSubmitDeletions    ActionType = "submitDeletions"
	ActionUploadAttachment   ActionType = "uploadAttachment"
	ActionRevertLibrary      ActionType = "revertLibrary"
	ActionForcedDownload     ActionType = "forcedDownload"
)

type Action struct {
	Type    ActionType
	Library models.LibraryID
	Kind    models.Kind
	Keys    []string
}

// Result is reported once per session.
type Result struct {
	// Err is nil on success. Failures of single libraries are joined here
	// and also listed in LibraryErrors.
	Err           error
	Actions       []Action
	Conflicts     []models.Conflict
	RetryDelays   []time.Duration
	Writes        int
	LibraryErrors map[models.LibraryID]error
}

// Count returns how many logged actions have type t.
func (r Result) Count(t ActionType) int {
	n := 0
	for _, a := range r.Actions {
		if a.Type == t {
			n++
		}
	}
	return n
}
