// Package osapi wraps the operating-system utilities the companion shells out
// to: window enumeration and focus, icon extraction, and browser control.
package osapi

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"flowtabs/internal/model"

	"go.uber.org/zap"
)

var (
	ErrUnsupported     = errors.New("osapi: not supported on this platform")
	ErrBrowserNotFound = errors.New("osapi: browser executable not found")
)

// Capability is the per-platform surface used by the poller and dispatcher.
type Capability interface {
	Name() string

	ListWindows(ctx context.Context) ([]model.Window, error)
	ActiveWindow(ctx context.Context) (model.ID, error)
	ExtractIcon(ctx context.Context, exePath, dest string) error

	IsBrowserRunning(ctx context.Context) (bool, error)
	ActivateBrowser(ctx context.Context) error
	ActivateWindow(ctx context.Context, id model.ID) error
	OpenBrowser(ctx context.Context, url string) error
}

type Options struct {
	// Backend overrides platform detection: "windows", "linux" or "none".
	Backend string
	// Browser is the browser process name without extension, e.g. "chrome".
	Browser string
	// BrowserPath launches this executable instead of discovering one.
	BrowserPath string
	// ScriptsDir holds the PowerShell helpers on Windows.
	ScriptsDir string
	// NirCmd is the nircmd executable used for window activation on Windows.
	NirCmd  string
	Timeout time.Duration

	Runner Runner
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Browser) == "" {
		o.Browser = "chrome"
	}
	if strings.TrimSpace(o.NirCmd) == "" {
		o.NirCmd = "nircmd.exe"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{Timeout: o.Timeout}
	}
	return o
}

// New picks the backend for goos (runtime.GOOS when empty), unless
// opts.Backend names one explicitly.
func New(goos string, opts Options) (Capability, error) {
	opts = opts.withDefaults()
	name := strings.ToLower(strings.TrimSpace(opts.Backend))
	if name == "" || name == "auto" {
		name = goos
		if name == "" {
			name = runtime.GOOS
		}
	}
	log := opts.Logger.With(zap.String("backend", name))
	switch name {
	case "windows":
		return &windowsBackend{opts: opts, run: opts.Runner, log: log}, nil
	case "linux":
		return &linuxBackend{opts: opts, run: opts.Runner, log: log, procRoot: "/proc"}, nil
	case "none", "unsupported", "darwin", "freebsd", "openbsd", "netbsd":
		return unsupported{name: name}, nil
	default:
		return nil, fmt.Errorf("osapi: unknown backend %q", name)
	}
}

type unsupported struct{ name string }

func (u unsupported) Name() string { return "unsupported(" + u.name + ")" }

func (unsupported) ListWindows(context.Context) ([]model.Window, error) { return nil, ErrUnsupported }
func (unsupported) ActiveWindow(context.Context) (model.ID, error)      { return "", ErrUnsupported }
func (unsupported) ExtractIcon(context.Context, string, string) error   { return ErrUnsupported }
func (unsupported) IsBrowserRunning(context.Context) (bool, error)      { return false, ErrUnsupported }
func (unsupported) ActivateBrowser(context.Context) error               { return ErrUnsupported }
func (unsupported) ActivateWindow(context.Context, model.ID) error      { return ErrUnsupported }
func (unsupported) OpenBrowser(context.Context, string) error           { return ErrUnsupported }
