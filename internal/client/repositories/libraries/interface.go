// Package libraries persists libraries, their permissions and the per-kind
// version counters the sync engine advances after each successful fetch or
// write.
package libraries

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

var ErrNotFound = errors.New("library not found")

// Repository is the version store.
type Repository interface {
	// Get returns the library or ErrNotFound.
	Get(ctx context.Context, id models.LibraryID) (*models.Library, error)

	// All returns the personal library first, then groups ordered by id.
	All(ctx context.Context) ([]*models.Library, error)

	// Upsert stores name, permissions, metadata version and versions.
	Upsert(ctx context.Context, lib *models.Library) error

	// SetVersions overwrites the version counters of an existing library.
	SetVersions(ctx context.Context, id models.LibraryID, v models.Versions) error

	// Delete removes the library row. Records are removed by the objects repository.
	Delete(ctx context.Context, id models.LibraryID) error
}
