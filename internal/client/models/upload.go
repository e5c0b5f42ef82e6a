package models

import "time"

// AttachmentUpload describes one attachment file to transfer. It is built by
// the upload planner and discarded once the transport reports an outcome.
type AttachmentUpload struct {
	Library     LibraryID
	Key         string
	Filename    string
	ContentType string
	MD5         string
	Mtime       int64
	Size        int64

	// Path is the file location inside attachment storage.
	Path string

	// OldMD5 is the last hash known to the server, used as an overwrite precondition.
	OldMD5 string
}

// UploadKind selects how a background upload is finalized.
type UploadKind string

const (
	UploadKindDirect UploadKind = "direct"
	UploadKindWebDAV UploadKind = "webdav"
)

// BackgroundUpload is a transfer handed to the background transport. It is
// persisted under TaskID until its completion has been delivered.
type BackgroundUpload struct {
	TaskID string
	Kind   UploadKind

	// UploadKey is the ticket of a direct upload.
	UploadKey string

	// Mtime is the file modification time of a WebDAV upload.
	Mtime int64

	// AuthToken authenticates a WebDAV transfer while it starts. Never persisted.
	AuthToken string

	Library   LibraryID
	Key       string
	UserID    int64
	RemoteURL string
	FilePath  string
	MD5       string
	// OldMD5 is the precondition used when a direct upload is registered.
	OldMD5    string
	CreatedAt time.Time

	// Completion is called after delivery when the upload was started by this
	// process. It is not persisted and is nil after a restart.
	Completion func(err error)
}
