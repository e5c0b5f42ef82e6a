package decisions

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

// Policy answers every question from fixed settings and records what was
// asked.
type Policy struct {
	// Actions maps a conflict type to the action taken for it.
	Actions map[models.ConflictType]models.ResolutionAction
	// RestoreRemoved selects restore over delete for restoreOrDelete conflicts.
	RestoreRemoved  bool
	CreateDirectory bool
	Overwrite       bool

	mu        sync.Mutex
	conflicts []models.Conflict
	questions []string
}

var _ Maker = (*Policy)(nil)

// Unattended keeps local data wherever a choice exists.
func Unattended() *Policy {
	return &Policy{
		Actions: map[models.ConflictType]models.ResolutionAction{
			models.ConflictRemoteChange:                     models.ResolveKeepLocal,
			models.ConflictRemovedWithLocalChanges:          models.ResolveRestoreOrDelete,
			models.ConflictRemovedCollectionHasChangedItems: models.ResolveRestoreOrDelete,
			models.ConflictGroupRemoved:                     models.ResolveKeepGroup,
			models.ConflictGroupWriteDenied:                 models.ResolveSkipGroup,
		},
		RestoreRemoved:  true,
		CreateDirectory: true,
		Overwrite:       false,
	}
}

func (p *Policy) Resolve(_ context.Context, c models.Conflict) (models.Resolution, error) {
	p.mu.Lock()
	p.conflicts = append(p.conflicts, c)
	p.mu.Unlock()

	action, ok := p.Actions[c.Type]
	if !ok {
		action = defaultAction(c.Type)
	}
	res := models.Resolution{Action: action}
	if action == models.ResolveRestoreOrDelete {
		keys := c.Keys
		if c.Type == models.ConflictRemovedCollectionHasChangedItems && c.CollectionKey != "" {
			keys = []string{c.CollectionKey}
		}
		if p.RestoreRemoved {
			res.Restore = append([]string(nil), keys...)
		} else {
			res.Delete = append([]string(nil), keys...)
		}
	}
	return res, nil
}

func defaultAction(t models.ConflictType) models.ResolutionAction {
	switch t {
	case models.ConflictRemoteChange:
		return models.ResolveKeepRemote
	case models.ConflictGroupRemoved:
		return models.ResolveDeleteGroup
	case models.ConflictGroupWriteDenied:
		return models.ResolveRevertGroup
	default:
		return models.ResolveRestoreOrDelete
	}
}

func (p *Policy) AskToCreateRemoteDirectory(_ context.Context, url string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, "create "+url)
	return p.CreateDirectory, nil
}

func (p *Policy) AskForPermission(_ context.Context, question string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, question)
	return p.Overwrite, nil
}

// Conflicts returns the conflicts resolved so far.
func (p *Policy) Conflicts() []models.Conflict {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Conflict(nil), p.conflicts...)
}

// Questions returns the yes/no questions asked so far.
func (p *Policy) Questions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.questions...)
}
