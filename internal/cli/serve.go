package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"flowtabs/internal/api"
	"flowtabs/internal/config"
	"flowtabs/internal/dispatch"
	"flowtabs/internal/hub"
	"flowtabs/internal/logging"
	"flowtabs/internal/osapi"
	"flowtabs/internal/poller"
	"flowtabs/internal/relevance"
	"flowtabs/internal/repo"
	"flowtabs/internal/transport"
	"flowtabs/internal/tui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(app *App) *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion (websocket endpoint, window poller, control API, TUI)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, app, headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Do not start the terminal UI")
	return cmd
}

func osOptions(cfg config.Config, log *zap.Logger) osapi.Options {
	return osapi.Options{
		Backend:     cfg.OS.Backend,
		Browser:     cfg.Browser.Process,
		BrowserPath: cfg.Browser.Path,
		ScriptsDir:  cfg.OS.ScriptsDir,
		NirCmd:      cfg.OS.NirCmd,
		Timeout:     cfg.OS.Timeout,
		Logger:      log,
	}
}

// companion is one running instance: every component wired to one hub.
type companion struct {
	cfg  config.Config
	log  *zap.Logger
	caps osapi.Capability
	peer *transport.Server
	hub  *hub.Hub
	poll *poller.Poller
	http *http.Server
}

func newCompanion(cfg config.Config, log *zap.Logger) (*companion, error) {
	caps, err := osapi.New("", osOptions(cfg, log.Named("osapi")))
	if err != nil {
		return nil, err
	}

	peer := transport.NewServer(transport.ServerConfig{
		Logger:          log.Named("transport"),
		NotifyDisplaced: cfg.Transport.NotifyDisplaced,
	})
	h := hub.New(hub.Options{
		Repo: repo.New(repo.Options{
			Policy:  repo.AccessPolicy{Cooldown: cfg.Access.Cooldown},
			Exclude: cfg.Windows.Exclude,
		}),
		Engine:   relevance.New(nil),
		Dispatch: dispatch.New(caps, peer, cfg.Search.URL, log.Named("dispatch")),
		Icons:    caps,
		Cache:    osapi.NewIconCache(cfg.Icons.Dir),
		Logger:   log.Named("hub"),
	})

	mux := http.NewServeMux()
	api.NewServer(h, log.Named("api")).Register(mux)
	// The browser agent connects to the root path.
	mux.Handle("/", peer)

	return &companion{
		cfg:  cfg,
		log:  log,
		caps: caps,
		peer: peer,
		hub:  h,
		poll: poller.New(caps, cfg.Poll.Interval, log.Named("poller")),
		http: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
	}, nil
}

// run serves on ln until ctx ends or ui returns. ui may be nil.
func (c *companion) run(ctx context.Context, ln net.Listener, ui func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("os", c.caps.Name()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.hub.Run(gctx, c.peer.Events()) })
	g.Go(func() error { return c.poll.Run(gctx, c.hub.HandlePoll) })
	g.Go(func() error {
		if err := c.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := c.peer.Close(sctx); err != nil {
			c.log.Warn("transport close", zap.Error(err))
		}
		return c.http.Shutdown(sctx)
	})
	if ui != nil {
		g.Go(func() error {
			defer cancel()
			return ui(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reconfigure applies a reloaded config file to the running hub.
func (c *companion) reconfigure(cfg config.Config, err error) {
	if err != nil {
		c.log.Warn("config reload rejected", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s := hub.Settings{
		Exclude: cfg.Windows.Exclude,
		Policy:  repo.AccessPolicy{Cooldown: cfg.Access.Cooldown},
	}
	if err := c.hub.Reconfigure(ctx, s); err != nil && !errors.Is(err, hub.ErrClosed) {
		c.log.Warn("config reload failed", zap.Error(err))
	}
}

func runServe(cmd *cobra.Command, app *App, headless bool) error {
	cfg := app.cfg
	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}
	if !headless && logOpts.File == "" {
		// The TUI owns the terminal.
		dir, err := config.Dir()
		if err != nil {
			return writeErr(cmd, err)
		}
		logOpts.File = filepath.Join(dir, "flowtabs.log")
	}
	log, syncLog, err := logging.New(logOpts)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer syncLog()

	c, err := newCompanion(cfg, log)
	if err != nil {
		return writeErr(cmd, err)
	}
	ln, err := net.Listen("tcp", cfg.Transport.Addr)
	if err != nil {
		return writeErr(cmd, fmt.Errorf("listen %s: %w", cfg.Transport.Addr, err))
	}

	if app.src != nil && app.src.Watch(c.reconfigure) {
		log.Info("watching config", zap.String("file", app.src.File()))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ui func(context.Context) error
	if !headless {
		ui = func(ctx context.Context) error {
			return tui.Run(ctx, c.hub, tui.Options{HidePrefixes: cfg.Tabs.HidePrefixes})
		}
	}
	if err := c.run(ctx, ln, ui); err != nil {
		return writeErr(cmd, err)
	}
	return nil
}
