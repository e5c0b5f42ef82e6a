package attachments

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/refsync/internal/logging"
	"github.com/dmitrijs2005/refsync/internal/netx"
	"github.com/google/uuid"
)

// HTTPBackground runs PUT transfers on its own context, so they survive the
// session that scheduled them.
type HTTPBackground struct {
	client  *http.Client
	storage *Storage
	log     logging.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	pollEvery time.Duration

	mu     sync.Mutex
	tasks  map[string]struct{}
	queue  []Completion
	notify chan struct{}
	out    chan Completion
}

var _ BackgroundTransport = (*HTTPBackground)(nil)

func NewHTTPBackground(client *http.Client, s *Storage, log logging.Logger) *HTTPBackground {
	if log == nil {
		log = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &HTTPBackground{
		client:    client,
		storage:   s,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     map[string]struct{}{},
		notify:    make(chan struct{}, 1),
		out:       make(chan Completion),
		pollEvery: 5 * time.Millisecond,
	}
	go b.pump()
	return b
}

func (b *HTTPBackground) Schedule(_ context.Context, req TransferRequest) (string, error) {
	id := uuid.NewString()
	b.mu.Lock()
	b.tasks[id] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(id, req)
	return id, nil
}

func (b *HTTPBackground) run(id string, req TransferRequest) {
	defer b.wg.Done()
	err := b.transfer(req)
	if err != nil {
		b.log.Warn(b.ctx, "background transfer failed", "task", id, "error", err)
	}

	b.mu.Lock()
	b.queue = append(b.queue, Completion{TaskID: id, Err: err})
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *HTTPBackground) transfer(req TransferRequest) error {
	f, err := b.storage.Open(req.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return netx.PutFile(b.ctx, b.client, req.URL, f, req.Size, req.Headers)
}

// pump hands queued completions to the receiver one at a time. The send
// only succeeds while a receiver waits and happens under mu together with
// the task removal, so a received completion is never still in flight.
func (b *HTTPBackground) pump() {
	ticker := time.NewTicker(b.pollEvery)
	defer ticker.Stop()

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			c := b.queue[0]
			select {
			case b.out <- c:
				b.queue = b.queue[1:]
				delete(b.tasks, c.TaskID)
				b.mu.Unlock()
				continue
			default:
			}
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-ticker.C:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *HTTPBackground) InFlight(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.tasks))
	for id := range b.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (b *HTTPBackground) Completions() <-chan Completion {
	return b.out
}

// Close aborts running transfers.
func (b *HTTPBackground) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}
