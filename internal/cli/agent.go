package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"flowtabs/internal/logging"
	"flowtabs/internal/model"
	"flowtabs/internal/transport"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAgentCmd(app *App) *cobra.Command {
	var (
		snapshotPath   string
		url            string
		stopOnDisplace bool
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a stand-in browser agent that serves tabs from a file",
		Long: strings.TrimSpace(`
Connects to a running instance the way the browser extension does: it pushes
the tab snapshot on every (re)connect, answers activateTab by marking the tab
active and reporting tabActivated, and opens a new tab for every search.

Received commands are printed one per line. Useful for diagnostics and for
driving flowtabs without a browser.
`),
		Example: strings.TrimSpace(`
  flowtabs agent --snapshot tabs.json
  flowtabs agent --url ws://127.0.0.1:5000/ --stop-on-displace
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tabs, err := loadSnapshot(snapshotPath)
			if err != nil {
				return writeErr(cmd, err)
			}
			if url == "" {
				_, addr := app.client()
				url = "ws://" + addr + "/"
			}
			log, syncLog, err := logging.New(logging.Options{Level: app.cfg.Log.Level, Format: app.cfg.Log.Format, File: app.cfg.Log.File})
			if err != nil {
				return writeErr(cmd, err)
			}
			defer syncLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = runAgent(ctx, cmd, app, agentOptions{
				URL:            url,
				Tabs:           tabs,
				StopOnDisplace: stopOnDisplace,
				Logger:         log.Named("agent"),
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "JSON file with the tabs to report (array or {\"tabs\": [...]})")
	cmd.Flags().StringVar(&url, "url", "", "Websocket URL (default: ws://<transport.addr>/)")
	cmd.Flags().BoolVar(&stopOnDisplace, "stop-on-displace", false, "Exit instead of reconnecting when a newer peer takes over")
	return cmd
}

type agentOptions struct {
	URL            string
	Tabs           []model.Tab
	StopOnDisplace bool
	Logger         *zap.Logger
}

// loadSnapshot reads tabs from path. An empty path means no tabs.
func loadSnapshot(path string) ([]model.Tab, error) {
	if strings.TrimSpace(path) == "" {
		return []model.Tab{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b = bytes.TrimSpace(b)
	var tabs []model.Tab
	if len(b) > 0 && b[0] == '[' {
		err = json.Unmarshal(b, &tabs)
	} else {
		var wrapped struct {
			Tabs []model.Tab `json:"tabs"`
		}
		err = json.Unmarshal(b, &wrapped)
		tabs = wrapped.Tabs
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	if tabs == nil {
		tabs = []model.Tab{}
	}
	return tabs, nil
}

// agentTabs is the stand-in browser state.
type agentTabs struct {
	mu   sync.Mutex
	tabs []model.Tab
}

func (a *agentTabs) snapshot() []model.Tab {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Tab(nil), a.tabs...)
}

// activate marks id as the only active tab.
func (a *agentTabs) activate(id model.ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	found := false
	for i := range a.tabs {
		a.tabs[i].Active = a.tabs[i].ID == id
		found = found || a.tabs[i].Active
	}
	return found
}

// open appends an active tab for url and returns its id.
func (a *agentTabs) open(url string) model.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := int64(1)
	for i := range a.tabs {
		a.tabs[i].Active = false
		if n, err := strconv.ParseInt(string(a.tabs[i].ID), 10, 64); err == nil && n >= next {
			next = n + 1
		}
	}
	id := model.ID(strconv.FormatInt(next, 10))
	a.tabs = append(a.tabs, model.Tab{ID: id, Title: url, URL: url, Active: true})
	return id
}

func runAgent(ctx context.Context, cmd *cobra.Command, app *App, opts agentOptions) error {
	state := &agentTabs{tabs: opts.Tabs}
	var client *transport.Client
	client = transport.NewClient(transport.ClientConfig{
		URL:               opts.URL,
		ReconnectInterval: app.cfg.Transport.ReconnectInterval,
		Logger:            opts.Logger,
		StopOnDisplace:    opts.StopOnDisplace,
		OnConnect: func(_ context.Context, c *transport.Client) error {
			return c.Send(transport.SnapshotMessage(state.snapshot()))
		},
		OnCommand: func(_ context.Context, in transport.Outbound) {
			out := map[string]any{"action": in.Action}
			switch in.Action {
			case transport.ActionActivateTab:
				found := state.activate(in.ID)
				out["id"], out["found"] = in.ID, found
				if found {
					if err := client.Send(transport.TabEventMessage(transport.ActionTabActivated, in.ID)); err != nil {
						opts.Logger.Warn("report activation", zap.Error(err))
					}
				}
			case transport.ActionSearch:
				out["url"] = in.URL
				out["id"] = state.open(in.URL)
				if err := client.Send(transport.SnapshotMessage(state.snapshot())); err != nil {
					opts.Logger.Warn("report new tab", zap.Error(err))
				}
			}
			if err := writeOut(cmd, app, out); err != nil {
				opts.Logger.Warn("write output", zap.Error(err))
			}
		},
	})
	return client.Run(ctx)
}
