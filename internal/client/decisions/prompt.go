package decisions

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"golang.org/x/term"
)

var ErrNotInteractive = errors.New("stdin is not a terminal")

var isTerminal = term.IsTerminal

// Prompt asks on a terminal.
type Prompt struct {
	in  *os.File
	out io.Writer

	mu     sync.Mutex
	reader *bufio.Reader
}

var _ Maker = (*Prompt)(nil)

func NewPrompt(in *os.File, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out, reader: bufio.NewReader(in)}
}

func (p *Prompt) ask(ctx context.Context, question string, options ...string) (string, error) {
	if !isTerminal(int(p.in.Fd())) {
		return "", ErrNotInteractive
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(p.out, "%s [%s]: ", question, strings.Join(options, "/"))
		line, err := p.reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		for _, o := range options {
			if answer == o {
				return o, nil
			}
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintln(p.out, "Please answer one of:", strings.Join(options, ", "))
	}
}

func (p *Prompt) confirm(ctx context.Context, question string) (bool, error) {
	a, err := p.ask(ctx, question, "y", "n")
	if err != nil {
		return false, err
	}
	return a == "y", nil
}

func (p *Prompt) Resolve(ctx context.Context, c models.Conflict) (models.Resolution, error) {
	keys := strings.Join(c.Keys, ", ")
	switch c.Type {
	case models.ConflictRemoteChange:
		a, err := p.ask(ctx, fmt.Sprintf("%s %s changed both locally and remotely. Keep local or remote", c.Kind, keys), "local", "remote")
		if err != nil {
			return models.Resolution{}, err
		}
		if a == "local" {
			return models.Resolution{Action: models.ResolveKeepLocal}, nil
		}
		return models.Resolution{Action: models.ResolveKeepRemote}, nil

	case models.ConflictRemovedWithLocalChanges, models.ConflictRemovedCollectionHasChangedItems:
		if c.CollectionKey != "" {
			keys = c.CollectionKey
		}
		restore, err := p.confirm(ctx, fmt.Sprintf("%s %s was deleted remotely but has local changes. Restore it", c.Kind, keys))
		if err != nil {
			return models.Resolution{}, err
		}
		affected := c.Keys
		if c.CollectionKey != "" {
			affected = []string{c.CollectionKey}
		}
		if restore {
			return models.Resolution{Action: models.ResolveRestoreOrDelete, Restore: affected}, nil
		}
		return models.Resolution{Action: models.ResolveRestoreOrDelete, Delete: affected}, nil

	case models.ConflictGroupRemoved:
		remove, err := p.confirm(ctx, fmt.Sprintf("Group %q is no longer available. Remove it locally", c.GroupName))
		if err != nil {
			return models.Resolution{}, err
		}
		if remove {
			return models.Resolution{Action: models.ResolveDeleteGroup}, nil
		}
		return models.Resolution{Action: models.ResolveKeepGroup}, nil

	case models.ConflictGroupWriteDenied:
		revert, err := p.confirm(ctx, fmt.Sprintf("You can no longer edit group %q. Revert your local changes", c.GroupName))
		if err != nil {
			return models.Resolution{}, err
		}
		if revert {
			return models.Resolution{Action: models.ResolveRevertGroup}, nil
		}
		return models.Resolution{Action: models.ResolveSkipGroup}, nil

	default:
		return models.Resolution{}, fmt.Errorf("unknown conflict type %q", c.Type)
	}
}

func (p *Prompt) AskToCreateRemoteDirectory(ctx context.Context, url string) (bool, error) {
	return p.confirm(ctx, fmt.Sprintf("Directory %s does not exist. Create it", url))
}

func (p *Prompt) AskForPermission(ctx context.Context, question string) (bool, error) {
	return p.confirm(ctx, question)
}
