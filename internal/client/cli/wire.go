package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/attachments"
	"github.com/dmitrijs2005/refsync/internal/client/config"
	"github.com/dmitrijs2005/refsync/internal/client/decisions"
	"github.com/dmitrijs2005/refsync/internal/client/engine"
	"github.com/dmitrijs2005/refsync/internal/client/remotefs"
	"github.com/dmitrijs2005/refsync/internal/client/schema"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"github.com/dmitrijs2005/refsync/internal/filex"
	"github.com/dmitrijs2005/refsync/internal/logging"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/term"
)

var isTerminal = term.IsTerminal

// newMaker prompts on a terminal unless unattended mode is requested.
func newMaker(c *config.Config, in *os.File, out io.Writer) decisions.Maker {
	if c.Unattended || in == nil || !isTerminal(int(in.Fd())) {
		return decisions.Unattended()
	}
	return decisions.NewPrompt(in, out)
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return schema.Parse(data)
}

type fileSync struct {
	opts    engine.Options
	closers []func() error
}

// buildFiles selects the attachment transport for c.FileSync. The off mode
// leaves opts without a transport, which disables file sync.
func buildFiles(ctx context.Context, c *config.Config, client api.Client, st *store.Store, maker decisions.Maker, log logging.Logger) (fileSync, error) {
	var fs fileSync
	if c.FileSync == config.FileSyncOff {
		return fs, nil
	}

	dir, err := filex.EnsureDir(c.DataDir)
	if err != nil {
		return fs, err
	}
	storage := attachments.NewStorage(osfs.New(dir))
	fs.opts.Storage = storage
	fs.opts.Uploader = attachments.NewUploader(storage)

	remote, err := newRemote(ctx, c)
	if err != nil {
		return fs, err
	}

	// transfers are bounded by the session context
	transfers := &http.Client{}

	if c.BackgroundUploads {
		hb := attachments.NewHTTPBackground(transfers, storage, log)
		fs.closers = append(fs.closers, hb.Close)
		fs.opts.Background = attachments.NewBackground(hb, attachments.NewRegistry(st), client, remote, storage, log)
	}

	switch c.FileSync {
	case config.FileSyncZotero:
		fs.opts.Files = attachments.NewDirect(client, storage, transfers, fs.opts.Background)
	default:
		fs.opts.Files = attachments.NewWebDAVTransport(remote, maker, storage, fs.opts.Background, log)
	}
	return fs, nil
}

func newRemote(ctx context.Context, c *config.Config) (remotefs.Store, error) {
	switch c.FileSync {
	case config.FileSyncZotero:
		return nil, nil
	case config.FileSyncWebDAV:
		if c.WebDAVURL == "" {
			return nil, fmt.Errorf("file sync %q needs a WebDAV URL", c.FileSync)
		}
		return remotefs.NewWebDAV(c.WebDAVURL, c.WebDAVUser, c.WebDAVPassword, c.RequestTimeout), nil
	case config.FileSyncS3:
		if c.S3Bucket == "" {
			return nil, fmt.Errorf("file sync %q needs a bucket", c.FileSync)
		}
		return remotefs.NewS3(ctx, remotefs.S3Options{
			Endpoint:  c.S3Endpoint,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Prefix:    c.S3Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown file sync mode %q", c.FileSync)
	}
}
