package attachments

import (
	"context"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

// Outcome describes what an upload attempt achieved.
type Outcome struct {
	// Reached is set when a request reached the API server.
	Reached bool
	// Exists means the server already had the file; nothing was transferred.
	Exists bool
	// Background means the transfer was scheduled under TaskID.
	Background bool
	TaskID     string
	// NeedsMetadata asks for the item's md5 and mtime fields to be uploaded.
	NeedsMetadata bool
}

type Transport interface {
	Upload(ctx context.Context, up *models.AttachmentUpload) (Outcome, error)
}

// Asker is the part of the decision maker the WebDAV transport needs.
type Asker interface {
	AskToCreateRemoteDirectory(ctx context.Context, url string) (bool, error)
	AskForPermission(ctx context.Context, question string) (bool, error)
}
