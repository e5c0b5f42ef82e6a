// Package decisions answers the questions a sync session cannot settle on
// its own: object conflicts, creating the remote attachment directory and
// overwriting files changed by another client.
package decisions

import (
	"context"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

type Maker interface {
	Resolve(ctx context.Context, c models.Conflict) (models.Resolution, error)
	AskToCreateRemoteDirectory(ctx context.Context, url string) (bool, error)
	AskForPermission(ctx context.Context, question string) (bool, error)
}
