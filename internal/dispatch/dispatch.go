// Package dispatch turns a user's choice into OS-level activation and
// browser commands.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"flowtabs/internal/model"
	"flowtabs/internal/transport"

	"go.uber.org/zap"
)

const DefaultSearchURL = "https://www.google.com/search?q=%s"

var ErrEmptyQuery = errors.New("dispatch: empty search query")

// Browser is the subset of the OS capability used for activation.
type Browser interface {
	IsBrowserRunning(ctx context.Context) (bool, error)
	ActivateBrowser(ctx context.Context) error
	ActivateWindow(ctx context.Context, id model.ID) error
	OpenBrowser(ctx context.Context, url string) error
}

// Sender delivers a command to the connected browser agent. It reports false
// when the command was dropped.
type Sender interface {
	Send(v any) bool
}

type Dispatcher struct {
	os        Browser
	peer      Sender
	searchURL string
	log       *zap.Logger
}

func New(os Browser, peer Sender, searchURL string, log *zap.Logger) *Dispatcher {
	if strings.TrimSpace(searchURL) == "" {
		searchURL = DefaultSearchURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{os: os, peer: peer, searchURL: searchURL, log: log}
}

// Select brings the item to the foreground. Tabs need the browser raised and
// the agent told to switch; windows are focused directly.
func (d *Dispatcher) Select(ctx context.Context, it model.Item) error {
	switch it.Kind {
	case model.KindTab:
		var errs []error
		if err := d.os.ActivateBrowser(ctx); err != nil {
			d.log.Warn("activate browser failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("activate browser: %w", err))
		}
		if !d.peer.Send(transport.ActivateTab(it.ID)) {
			d.log.Info("activateTab dropped: no browser peer", zap.String("tab", string(it.ID)))
		}
		return errors.Join(errs...)
	case model.KindWindow:
		if err := d.os.ActivateWindow(ctx, it.ID); err != nil {
			d.log.Warn("activate window failed", zap.String("window", string(it.ID)), zap.Error(err))
			return fmt.Errorf("activate window %s: %w", it.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("dispatch: unknown item kind %q", it.Kind)
	}
}

// SearchURL renders the configured template for query.
func (d *Dispatcher) SearchURL(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", ErrEmptyQuery
	}
	esc := strings.ReplaceAll(url.QueryEscape(q), "+", "%20")
	if strings.Contains(d.searchURL, "%s") {
		return strings.ReplaceAll(d.searchURL, "%s", esc), nil
	}
	return d.searchURL + esc, nil
}

// Search runs a web search: through the agent when the browser is up,
// otherwise by launching the browser on the results page.
func (d *Dispatcher) Search(ctx context.Context, query string) error {
	u, err := d.SearchURL(query)
	if err != nil {
		return err
	}
	running, err := d.os.IsBrowserRunning(ctx)
	if err != nil {
		d.log.Warn("browser running check failed; launching", zap.Error(err))
	}
	if !running {
		if err := d.os.OpenBrowser(ctx, u); err != nil {
			d.log.Warn("open browser failed", zap.Error(err))
			return fmt.Errorf("open browser: %w", err)
		}
		return nil
	}

	var errs []error
	if err := d.os.ActivateBrowser(ctx); err != nil {
		d.log.Warn("activate browser failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("activate browser: %w", err))
	}
	if !d.peer.Send(transport.Search(u)) {
		d.log.Info("search dropped: no browser peer", zap.String("url", u))
	}
	return errors.Join(errs...)
}
