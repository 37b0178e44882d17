package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// ErrNotInteractive is returned by PromptDecider when there is no terminal
// to ask on.
var ErrNotInteractive = errors.New("cannot prompt: not running in a terminal")

// PromptDecider asks at the terminal which side of a conflict to keep.
type PromptDecider struct {
	// canPrompt is swapped in tests.
	canPrompt func() bool
	run       func(ctx context.Context, form *huh.Form) error
}

var _ sync.Decider = (*PromptDecider)(nil)

// NewPromptDecider creates a decider that prompts on stdin/stdout.
func NewPromptDecider() *PromptDecider {
	return &PromptDecider{
		canPrompt: CanPrompt,
		run: func(ctx context.Context, form *huh.Form) error {
			return form.RunWithContext(ctx)
		},
	}
}

// AskUser shows both versions and returns the user's pick. An aborted
// prompt leaves the conflict unresolved.
func (p *PromptDecider) AskUser(ctx context.Context, local, server *todo.Item) (sync.Choice, error) {
	if !p.canPrompt() {
		return 0, ErrNotInteractive
	}

	choice := sync.UseServer
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[sync.Choice]().
			Title("Conflict on " + describe(server)).
			Description(fmt.Sprintf("This device: %s\nServer:      %s", describe(local), describe(server))).
			Options(
				huh.NewOption("Keep the server version", sync.UseServer),
				huh.NewOption("Keep my change", sync.UseClient),
			).
			Value(&choice),
	))

	if err := p.run(ctx, form); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return 0, fmt.Errorf("conflict left unresolved: %w", err)
		}
		return 0, fmt.Errorf("failed to prompt: %w", err)
	}
	return choice, nil
}

func describe(it *todo.Item) string {
	if it == nil {
		return "(none)"
	}
	if it.Deleted {
		return fmt.Sprintf("%q (deleted)", it.Name)
	}
	state := "open"
	if it.Done {
		state = "done"
	}
	return fmt.Sprintf("%q (%s)", it.Name, state)
}
