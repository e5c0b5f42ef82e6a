package engine

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/attachments"
	"github.com/dmitrijs2005/refsync/internal/client/decisions"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"github.com/dmitrijs2005/refsync/internal/logging"
)

type SessionType string

const (
	// SessionNormal lists changes since the stored versions.
	SessionNormal SessionType = "normal"
	// SessionFull lists everything from version 0, so records missing
	// remotely are found and queued for upload.
	SessionFull SessionType = "full"
)

// LibrarySelector restricts a session to some libraries. The zero value selects all.
type LibrarySelector struct {
	IDs []models.LibraryID
}

func AllLibraries() LibrarySelector { return LibrarySelector{} }

func SpecificLibraries(ids ...models.LibraryID) LibrarySelector {
	return LibrarySelector{IDs: ids}
}

func (s LibrarySelector) Includes(id models.LibraryID) bool {
	return len(s.IDs) == 0 || slices.Contains(s.IDs, id)
}

type Request struct {
	Type      SessionType
	Libraries LibrarySelector
}

// Options tunes a Controller. Zero values get defaults.
type Options struct {
	DownloadBatchSize   int
	WriteBatchSize      int
	DownloadConcurrency int
	Backoff             *Backoff

	// Files transfers attachment files. Nil disables file sync.
	Files      attachments.Transport
	Uploader   *attachments.Uploader
	Storage    *attachments.Storage
	Background *attachments.Background
}

func (o *Options) setDefaults() {
	if o.DownloadBatchSize <= 0 {
		o.DownloadBatchSize = 50
	}
	if o.WriteBatchSize <= 0 {
		o.WriteBatchSize = 50
	}
	if o.DownloadConcurrency <= 0 {
		o.DownloadConcurrency = 4
	}
	if o.Backoff == nil {
		o.Backoff = DefaultBackoff()
	}
}

// Controller runs at most one sync session at a time.
type Controller struct {
	api    api.Client
	store  *store.Store
	schema Schema
	maker  decisions.Maker
	opts   Options
	log    logging.Logger

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

func New(client api.Client, st *store.Store, schema Schema, maker decisions.Maker, opts Options, log logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	opts.setDefaults()
	return &Controller{api: client, store: st, schema: schema, maker: maker, opts: opts, log: log}
}

// Start runs a session in the background and reports its Result on the
// returned channel. It returns false and does nothing while a session is running.
func (c *Controller) Start(ctx context.Context, req Request) (<-chan Result, bool) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, false
	}
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res := c.runSession(ctx, req)

		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		c.running.Store(false)
		out <- res
	}()
	return out, true
}

// Run is the blocking form of Start.
func (c *Controller) Run(ctx context.Context, req Request) Result {
	out, ok := c.Start(ctx, req)
	if !ok {
		return Result{Err: ErrSessionRunning}
	}
	return <-out
}

// Cancel abandons the running session. Background transfers keep running.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller) Running() bool {
	return c.running.Load()
}
