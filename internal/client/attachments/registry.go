package attachments

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/client/store"
)

// Registry persists background uploads and keeps the completion callbacks
// of uploads started by this process.
type Registry struct {
	mu        sync.Mutex
	store     *store.Store
	callbacks map[string]func(error)
}

func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s, callbacks: map[string]func(error){}}
}

func (r *Registry) Add(ctx context.Context, up *models.BackgroundUpload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.store.Write(ctx, func(ctx context.Context, repos store.Repositories) error {
		return repos.Uploads.Save(ctx, up)
	})
	if err != nil {
		return err
	}
	if up.Completion != nil {
		r.callbacks[up.TaskID] = up.Completion
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, taskID string) (*models.BackgroundUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, err := r.store.Read().Uploads.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	up.Completion = r.callbacks[taskID]
	return up, nil
}

func (r *Registry) All(ctx context.Context) ([]*models.BackgroundUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all, err := r.store.Read().Uploads.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, up := range all {
		up.Completion = r.callbacks[up.TaskID]
	}
	return all, nil
}

// Complete removes the record and calls its completion callback.
func (r *Registry) Complete(ctx context.Context, taskID string, result error) error {
	cb, err := r.remove(ctx, taskID)
	if err != nil {
		return err
	}
	if cb != nil {
		cb(result)
	}
	return nil
}

// Drop removes the record without calling back.
func (r *Registry) Drop(ctx context.Context, taskID string) error {
	_, err := r.remove(ctx, taskID)
	return err
}

func (r *Registry) remove(ctx context.Context, taskID string) (func(error), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.store.Write(ctx, func(ctx context.Context, repos store.Repositories) error {
		return repos.Uploads.Delete(ctx, taskID)
	})
	if err != nil {
		return nil, err
	}
	cb := r.callbacks[taskID]
	delete(r.callbacks, taskID)
	return cb, nil
}
