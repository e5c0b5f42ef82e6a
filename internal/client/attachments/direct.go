package attachments

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/netx"
)

// Direct uploads files to the storage the API server hands out.
type Direct struct {
	api        api.Client
	storage    *Storage
	httpClient *http.Client
	background *Background
}

var _ Transport = (*Direct)(nil)

// NewDirect returns a direct transport; background may be nil.
func NewDirect(c api.Client, s *Storage, httpClient *http.Client, background *Background) *Direct {
	return &Direct{api: c, storage: s, httpClient: httpClient, background: background}
}

func (d *Direct) Upload(ctx context.Context, up *models.AttachmentUpload) (Outcome, error) {
	auth, err := d.api.AuthorizeUpload(ctx, up)
	if err != nil {
		return Outcome{}, fmt.Errorf("authorize upload of %s: %w", up.Key, err)
	}
	out := Outcome{Reached: true}
	if auth.Exists {
		out.Exists = true
		return out, nil
	}

	if d.background != nil {
		id, err := d.background.ScheduleDirect(ctx, up, auth)
		if err != nil {
			return out, err
		}
		out.Background, out.TaskID = true, id
		return out, nil
	}

	f, err := d.storage.Open(up.Path)
	if err != nil {
		return out, err
	}
	defer f.Close()

	if err := netx.PutFile(ctx, d.httpClient, auth.URL, f, up.Size, contentHeaders(auth.ContentType)); err != nil {
		return out, fmt.Errorf("upload %s: %w", up.Key, err)
	}
	if err := d.api.RegisterUpload(ctx, up, auth.UploadKey); err != nil {
		return out, fmt.Errorf("register upload of %s: %w", up.Key, err)
	}
	return out, nil
}

func contentHeaders(contentType string) map[string]string {
	if contentType == "" {
		return nil
	}
	return map[string]string{"Content-Type": contentType}
}
