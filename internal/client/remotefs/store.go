// Package remotefs is the file store used by the WebDAV upload strategy:
// a root directory on a WebDAV server or a prefix in an S3 bucket holding
// KEY.zip and KEY.prop files.
package remotefs

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/studio-b12/gowebdav"
)

// RootDir is the directory attachment files live in.
const RootDir = "zotero"

var ErrNotExist = errors.New("remote file does not exist")

type Store interface {
	// Probe checks the endpoint is reachable and accepts the credentials.
	Probe(ctx context.Context) error
	// Exists reports whether the root directory exists.
	Exists(ctx context.Context) (bool, error)
	// ParentExists reports whether the location the root would be created in exists.
	ParentExists(ctx context.Context) (bool, error)
	CreateRoot(ctx context.Context) error
	Write(ctx context.Context, name string, r io.Reader, size int64) error
	// Read returns ErrNotExist for a missing file.
	Read(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
	// URL is the absolute location of a file in the root directory.
	URL(name string) string
	// AuthToken is the Authorization header value for direct transfers.
	AuthToken() string
}

// Presigner is implemented by stores that hand out signed upload URLs.
type Presigner interface {
	PresignPut(ctx context.Context, name string) (string, error)
}

// Transient reports whether err may pass on retry: a network failure or a
// 429 or 5xx answer of a WebDAV or S3 endpoint.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var se gowebdav.StatusError
	if errors.As(err, &se) {
		return retryableStatus(se.Status)
	}
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return retryableStatus(re.HTTPStatusCode())
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
