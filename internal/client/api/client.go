package api

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

// Client is the remote API used by the sync engine.
type Client interface {
	// KeyPermissions describes the API key: owner and library access.
	KeyPermissions(ctx context.Context) (*KeyInfo, error)

	// GroupVersions returns the metadata version of every group the user belongs to.
	GroupVersions(ctx context.Context, userID int64) (map[int64]int64, error)

	FetchGroup(ctx context.Context, groupID int64) (*Group, error)

	// FetchSettings returns ErrNotModified when nothing changed since the version.
	FetchSettings(ctx context.Context, lib models.LibraryID, since int64) (*Settings, error)

	// ListVersions returns key->version of objects of kind changed since the
	// version, and the current library version. It returns ErrNotModified
	// when nothing changed.
	ListVersions(ctx context.Context, lib models.LibraryID, kind models.Kind, since int64) (map[string]int64, int64, error)

	// FetchObjects downloads full JSON objects by key.
	FetchObjects(ctx context.Context, lib models.LibraryID, kind models.Kind, keys []string) ([]json.RawMessage, int64, error)

	FetchDeletionLog(ctx context.Context, lib models.LibraryID, since int64) (*DeletionLog, error)

	// CollectionItemKeys lists keys of items that belong to a collection remotely.
	CollectionItemKeys(ctx context.Context, lib models.LibraryID, collectionKey string) ([]string, error)

	// WriteBatch creates or updates objects. version is the library version
	// the batch was planned against.
	WriteBatch(ctx context.Context, lib models.LibraryID, kind models.Kind, version int64, objects []WriteObject) (*WriteResult, error)

	// SubmitDeletions deletes objects remotely and returns the new library version.
	SubmitDeletions(ctx context.Context, lib models.LibraryID, kind models.Kind, version int64, keys []string) (int64, error)

	AuthorizeUpload(ctx context.Context, up *models.AttachmentUpload) (*Authorization, error)
	RegisterUpload(ctx context.Context, up *models.AttachmentUpload, uploadKey string) error
}

// Access is the permission set of a key on one library.
type Access struct {
	Library bool `json:"library"`
	Write   bool `json:"write"`
	Files   bool `json:"files"`
	Notes   bool `json:"notes"`
}

type KeyInfo struct {
	UserID   int64
	Username string
	User     Access
	// AllGroups applies to groups without an explicit entry.
	AllGroups *Access
	Groups    map[int64]Access
}

// GroupAccess returns the key's access to a group.
func (k *KeyInfo) GroupAccess(groupID int64) Access {
	if a, ok := k.Groups[groupID]; ok {
		return a
	}
	if k.AllGroups != nil {
		return *k.AllGroups
	}
	return Access{}
}

type Group struct {
	ID             int64
	Version        int64
	Name           string
	Owner          int64
	Type           string
	LibraryEditing string
	FileEditing    string
	Admins         []int64
}

// Settings is the settings kind of a library: tag colors.
type Settings struct {
	TagColors []models.TagColor
	Version   int64
}

// DeletionLog lists keys deleted remotely since a version.
type DeletionLog struct {
	Collections []string
	Searches    []string
	Items       []string
	Tags        []string
	Version     int64
}

// Keys returns the deleted keys of kind.
func (d *DeletionLog) Keys(kind models.Kind) []string {
	switch kind.Stored() {
	case models.KindCollection:
		return d.Collections
	case models.KindSearch:
		return d.Searches
	case models.KindItem:
		return d.Items
	default:
		return nil
	}
}

// WriteObject is the JSON body of one object in a write batch.
type WriteObject map[string]any

// Key returns the object key.
func (o WriteObject) Key() string {
	k, _ := o["key"].(string)
	return k
}

type WriteFailure struct {
	Key     string
	Code    int
	Message string
}

type WriteResult struct {
	Version    int64
	Successful []string
	Unchanged  []string
	Failed     []WriteFailure
}

// Authorization is the answer to an upload authorization request.
type Authorization struct {
	Exists      bool
	URL         string
	ContentType string
	UploadKey   string
}
