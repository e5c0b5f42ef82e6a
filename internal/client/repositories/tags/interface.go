// Package tags persists the library-wide tag table and tag colors.
package tags

import (
	"context"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

type Repository interface {
	// Ensure adds names that are not yet known, keeping existing colors.
	Ensure(ctx context.Context, lib models.LibraryID, names []string) error

	// SetColors replaces the colors of the library: listed tags get their
	// color (and are created if missing), every other tag loses its color.
	SetColors(ctx context.Context, lib models.LibraryID, colors []models.TagColor) error

	// Delete removes tags by name.
	Delete(ctx context.Context, lib models.LibraryID, names []string) error

	// All returns the tags of the library ordered by name.
	All(ctx context.Context, lib models.LibraryID) ([]models.Tag, error)

	// DeleteLibrary removes every tag of the library.
	DeleteLibrary(ctx context.Context, lib models.LibraryID) error
}
