// Package tui renders the relevant and overflow lists in the terminal.
package tui

import (
	"context"
	"errors"
	"time"

	"flowtabs/internal/model"

	tea "github.com/charmbracelet/bubbletea"
)

// Backend is the part of the hub the terminal UI drives.
type Backend interface {
	Subscribe() (<-chan model.Views, func())
	SetFavorite(ctx context.Context, key model.Key, favorite bool) (bool, error)
	Select(ctx context.Context, key model.Key) error
	Search(ctx context.Context, query string) error
}

type Options struct {
	// Tabs whose url starts with one of these are not shown.
	HidePrefixes []string
	// Timeout bounds each command sent to the backend.
	Timeout time.Duration
}

// Run blocks until the user quits, ctx is cancelled or the backend stops
// publishing.
func Run(ctx context.Context, b Backend, opts Options) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	applyColorProfilePreference()
	applyThemePreference()

	views, cancel := b.Subscribe()
	defer cancel()

	p := tea.NewProgram(newAppModel(b, views, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
