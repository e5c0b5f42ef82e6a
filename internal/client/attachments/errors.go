package attachments

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound    = errors.New("attachment file not found")
	ErrNotVerified     = errors.New("remote file store not verified")
	ErrOverwriteDenied = errors.New("overwrite of remote file denied")

	ErrDirectoryDeclined = fmt.Errorf("remote directory creation declined: %w", ErrNotVerified)
	ErrParentMissing     = fmt.Errorf("parent of remote directory does not exist: %w", ErrNotVerified)
)
