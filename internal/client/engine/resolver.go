package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/api"
	"github.com/dmitrijs2005/refsync/internal/client/decisions"
	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/sethvargo/go-retry"
)

type ResolverState string

const (
	StateIdle             ResolverState = "idle"
	StateAwaitingDecision ResolverState = "awaitingDecision"
	StateRetryScheduled   ResolverState = "retryScheduled"
)

// Resolver asks the decision maker about object conflicts and retries
// writes rejected for a stale version or a transient failure.
type Resolver struct {
	maker   decisions.Maker
	backoff *Backoff

	mu        sync.Mutex
	state     ResolverState
	delays    []time.Duration
	conflicts []models.Conflict
}

func NewResolver(maker decisions.Maker, backoff *Backoff) *Resolver {
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	return &Resolver{maker: maker, backoff: backoff, state: StateIdle}
}

func (r *Resolver) State() ResolverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resolver) setState(s ResolverState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Resolve blocks on the decision maker.
func (r *Resolver) Resolve(ctx context.Context, c models.Conflict) (models.Resolution, error) {
	r.mu.Lock()
	r.state = StateAwaitingDecision
	r.conflicts = append(r.conflicts, c)
	r.mu.Unlock()
	defer r.setState(StateIdle)

	return r.maker.Resolve(ctx, c)
}

// Do runs attempt until it succeeds, fails permanently or the schedule is
// exhausted. refresh is true when the previous attempt was rejected for a
// stale version: the attempt must re-fetch and replan instead of replaying.
func (r *Resolver) Do(ctx context.Context, attempt func(ctx context.Context, refresh bool) error) error {
	refresh := false
	err := retry.Do(ctx, r.backoff.policy(r.scheduled), func(ctx context.Context) error {
		r.setState(StateIdle)
		err := attempt(ctx, refresh)
		refresh = errors.Is(err, api.ErrPreconditionFailed)
		if refresh || errors.Is(err, api.ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
	r.setState(StateIdle)
	return err
}

func (r *Resolver) scheduled(d time.Duration) {
	r.mu.Lock()
	r.state = StateRetryScheduled
	r.delays = append(r.delays, d)
	r.mu.Unlock()
}

// Delays returns the retry delays scheduled so far.
func (r *Resolver) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// Conflicts returns the conflicts passed to the decision maker so far.
func (r *Resolver) Conflicts() []models.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Conflict(nil), r.conflicts...)
}
