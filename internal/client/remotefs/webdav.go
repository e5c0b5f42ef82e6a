package remotefs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"
)

// WebDAV is a Store on a WebDAV server. The root directory is created
// under the configured URL.
type WebDAV struct {
	baseURL  string
	user     string
	password string
	client   *gowebdav.Client
}

var _ Store = (*WebDAV)(nil)

func NewWebDAV(baseURL, user, password string, timeout time.Duration) *WebDAV {
	baseURL = strings.TrimRight(baseURL, "/")
	c := gowebdav.NewClient(baseURL, user, password)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &WebDAV{baseURL: baseURL, user: user, password: password, client: c}
}

func notFound(err error) bool {
	return gowebdav.IsErrNotFound(err) || errors.Is(err, fs.ErrNotExist)
}

func rootPath(name string) string {
	return RootDir + "/" + name
}

func (w *WebDAV) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("webdav probe: %w", err)
	}
	return nil
}

func (w *WebDAV) stat(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := w.client.Stat(p)
	if notFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("webdav stat %s: %w", p, err)
	}
	return true, nil
}

func (w *WebDAV) Exists(ctx context.Context) (bool, error) {
	return w.stat(ctx, RootDir+"/")
}

func (w *WebDAV) ParentExists(ctx context.Context) (bool, error) {
	return w.stat(ctx, "/")
}

func (w *WebDAV) CreateRoot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.Mkdir(RootDir, 0o755); err != nil {
		return fmt.Errorf("webdav mkcol: %w", err)
	}
	return nil
}

func (w *WebDAV) Write(ctx context.Context, name string, r io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.WriteStream(rootPath(name), r, 0o644); err != nil {
		return fmt.Errorf("webdav put %s: %w", name, err)
	}
	return nil
}

func (w *WebDAV) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := w.client.Read(rootPath(name))
	if notFound(err) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("webdav get %s: %w", name, err)
	}
	return b, nil
}

func (w *WebDAV) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.Remove(rootPath(name)); err != nil && !notFound(err) {
		return fmt.Errorf("webdav delete %s: %w", name, err)
	}
	return nil
}

func (w *WebDAV) URL(name string) string {
	return w.baseURL + "/" + rootPath(name)
}

func (w *WebDAV) AuthToken() string {
	if w.user == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(w.user+":"+w.password))
}
