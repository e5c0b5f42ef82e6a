package objects

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

var ErrNotFound = errors.New("record not found")

// Repository describes record queries and mutations used by the sync engine.
type Repository interface {
	// Get returns a record by key or ErrNotFound.
	Get(ctx context.Context, lib models.LibraryID, key string) (*models.Record, error)

	// GetMany returns the records found among keys, indexed by key.
	GetMany(ctx context.Context, lib models.LibraryID, keys []string) (map[string]*models.Record, error)

	// ByKind returns every record stored under the kind (trash maps to items).
	ByKind(ctx context.Context, lib models.LibraryID, kind models.Kind) ([]*models.Record, error)

	// States returns the diff view of every record stored under the kind.
	States(ctx context.Context, lib models.LibraryID, kind models.Kind) ([]models.LocalState, error)

	// Unsynced returns keys of records that must be fetched again: dirty or
	// needsSync records without local edits.
	Unsynced(ctx context.Context, lib models.LibraryID, kind models.Kind) ([]string, error)

	// Pending returns records with local edits or tombstones.
	Pending(ctx context.Context, lib models.LibraryID) ([]*models.Record, error)

	// PendingFiles returns items whose attachment file must be uploaded.
	PendingFiles(ctx context.Context, lib models.LibraryID) ([]*models.Record, error)

	// MemberItems returns items that list collectionKey among their collections.
	MemberItems(ctx context.Context, lib models.LibraryID, collectionKey string) ([]*models.Record, error)

	// Children returns records whose parent key is parentKey.
	Children(ctx context.Context, lib models.LibraryID, parentKey string) ([]*models.Record, error)

	// Upsert inserts or replaces a record.
	Upsert(ctx context.Context, rec *models.Record) error

	// Delete removes a record; deleting a missing record is not an error.
	Delete(ctx context.Context, lib models.LibraryID, key string) error

	// DeleteLibrary removes every record of the library.
	DeleteLibrary(ctx context.Context, lib models.LibraryID) error

	// Count returns the number of records stored under the kind.
	Count(ctx context.Context, lib models.LibraryID, kind models.Kind) (int, error)
}
