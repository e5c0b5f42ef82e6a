// Package uploads persists background uploads keyed by the transport task
// id, so a restarted process still knows which attachments are uploading.
package uploads

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

var ErrNotFound = errors.New("background upload not found")

type Repository interface {
	// Save stores the upload under its TaskID. The auth token is not stored.
	Save(ctx context.Context, up *models.BackgroundUpload) error
	Get(ctx context.Context, taskID string) (*models.BackgroundUpload, error)
	All(ctx context.Context) ([]*models.BackgroundUpload, error)
	Delete(ctx context.Context, taskID string) error
}
