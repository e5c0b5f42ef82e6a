package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/attachments"
	"github.com/dmitrijs2005/refsync/internal/client/config"
	"github.com/dmitrijs2005/refsync/internal/client/engine"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/store"
	"github.com/dmitrijs2005/refsync/internal/logging"
)

// syncer runs one session to completion.
type syncer interface {
	Run(ctx context.Context, req engine.Request) engine.Result
}

type App struct {
	config     *config.Config
	log        logging.Logger
	out        io.Writer
	syncer     syncer
	background *attachments.Background
	request    engine.Request
	closers    []func() error
}

// NewApp opens the local store and wires the sync controller described by c.
// The summary of every session is written to out.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger, out io.Writer) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}
	req, err := buildRequest(c)
	if err != nil {
		return nil, err
	}

	sch, err := loadSchema(c.SchemaFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.DatabaseDSN)
	if err != nil {
		log.Error(ctx, "error opening database", "dsn", c.DatabaseDSN, "error", err)
		return nil, err
	}
	a := &App{config: c, log: log, out: out, request: req, closers: []func() error{st.Close}}

	client := api.NewHTTPClient(c.APIURL, c.APIKey, c.RequestTimeout)
	maker := newMaker(c, os.Stdin, out)

	files, err := buildFiles(ctx, c, client, st, maker, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, files.closers...)
	a.background = files.opts.Background

	opts := files.opts
	opts.DownloadBatchSize = c.DownloadBatchSize
	opts.WriteBatchSize = c.WriteBatchSize
	opts.DownloadConcurrency = c.DownloadConcurrency
	opts.Backoff = &engine.Backoff{Delays: c.ConflictDelays, MaxRetries: c.MaxRetries}

	a.syncer = engine.New(client, st, sch, maker, opts, log)
	return a, nil
}

func buildRequest(c *config.Config) (engine.Request, error) {
	req := engine.Request{Type: engine.SessionNormal, Libraries: engine.AllLibraries()}
	if c.Full {
		req.Type = engine.SessionFull
	}
	if len(c.Libraries) == 0 {
		return req, nil
	}
	ids := make([]models.LibraryID, 0, len(c.Libraries))
	for _, s := range c.Libraries {
		id, err := models.ParseLibraryID(s)
		if err != nil {
			return req, fmt.Errorf("library %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	req.Libraries = engine.SpecificLibraries(ids...)
	return req, nil
}

// Run syncs once, or every SyncInterval until ctx is done. In single-session
// mode the session error is returned and background uploads are awaited.
func (a *App) Run(ctx context.Context) error {
	if a.config.SyncInterval <= 0 {
		if err := a.syncOnce(ctx); err != nil {
			return err
		}
		return a.awaitBackground(ctx)
	}

	a.log.Info(ctx, "syncing periodically", "interval", a.config.SyncInterval)
	ticker := time.NewTicker(a.config.SyncInterval)
	defer ticker.Stop()

	for {
		if err := a.syncOnce(ctx); err != nil {
			a.log.Warn(ctx, "session failed", "error", err)
		}
		// the first request of a full run is the only full one
		a.request.Type = engine.SessionNormal

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) syncOnce(ctx context.Context) error {
	started := time.Now()
	res := a.syncer.Run(ctx, a.request)
	printSummary(a.out, res, time.Since(started))
	if res.Err != nil && errors.Is(res.Err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return res.Err
}

func (a *App) awaitBackground(ctx context.Context) error {
	if a.background == nil {
		return nil
	}
	done, err := a.background.Await(ctx)
	for _, f := range done {
		if f.Err != nil {
			fmt.Fprintf(a.out, "background upload of %s failed: %v\n", f.Upload.Key, f.Err)
			continue
		}
		fmt.Fprintf(a.out, "background upload of %s finished\n", f.Upload.Key)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases everything NewApp opened, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
