package osapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"flowtabs/internal/model"

	"go.uber.org/zap"
)

const (
	scriptListWindows  = "windowsProcess.ps1"
	scriptActiveWindow = "getActiveWindow.ps1"
	scriptWindowIcon   = "getWindowIcon.ps1"
)

// windowsBackend drives PowerShell helper scripts, nircmd and the stock
// tasklist/start commands.
type windowsBackend struct {
	opts Options
	run  Runner
	log  *zap.Logger
}

func (b *windowsBackend) Name() string { return "windows" }

func (b *windowsBackend) exe() string { return b.opts.Browser + ".exe" }

func (b *windowsBackend) powershell(ctx context.Context, script string, args ...string) ([]byte, error) {
	argv := []string{"-NoProfile", "-ExecutionPolicy", "RemoteSigned", "-File", filepath.Join(b.opts.ScriptsDir, script)}
	return b.run.Run(ctx, "powershell", append(argv, args...)...)
}

type psWindow struct {
	ID          model.ID `json:"id"`
	Title       string   `json:"title"`
	ProcessName string   `json:"processName"`
	ExePath     string   `json:"exePath"`
}

func (b *windowsBackend) ListWindows(ctx context.Context) ([]model.Window, error) {
	out, err := b.powershell(ctx, scriptListWindows)
	if err != nil {
		return nil, err
	}
	return decodeWindowList(out)
}

// decodeWindowList accepts ConvertTo-Json output, which collapses a
// one-element array into a bare object.
func decodeWindowList(out []byte) ([]model.Window, error) {
	out = bytes.TrimSpace(bytes.TrimPrefix(out, []byte("\xef\xbb\xbf")))
	if len(out) == 0 {
		return []model.Window{}, nil
	}
	var raw []psWindow
	if out[0] == '{' {
		var one psWindow
		if err := json.Unmarshal(out, &one); err != nil {
			return nil, fmt.Errorf("osapi: decode window list: %w", err)
		}
		raw = []psWindow{one}
	} else if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("osapi: decode window list: %w", err)
	}
	windows := make([]model.Window, 0, len(raw))
	for _, w := range raw {
		if w.ID == "" {
			continue
		}
		windows = append(windows, model.Window{ID: w.ID, Title: w.Title, ProcessName: w.ProcessName, ExePath: w.ExePath})
	}
	return windows, nil
}

func (b *windowsBackend) ActiveWindow(ctx context.Context) (model.ID, error) {
	out, err := b.powershell(ctx, scriptActiveWindow)
	if err != nil {
		return "", err
	}
	return model.ID(strings.TrimSpace(string(out))), nil
}

func (b *windowsBackend) ExtractIcon(ctx context.Context, exePath, dest string) error {
	if strings.TrimSpace(exePath) == "" {
		return fmt.Errorf("osapi: extract icon: empty executable path")
	}
	_, err := b.powershell(ctx, scriptWindowIcon, exePath, dest)
	return err
}

func (b *windowsBackend) IsBrowserRunning(ctx context.Context) (bool, error) {
	out, err := b.run.Run(ctx, "tasklist", "/FI", "IMAGENAME eq "+b.exe())
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(string(out)), strings.ToLower(b.exe())), nil
}

func (b *windowsBackend) ActivateBrowser(ctx context.Context) error {
	_, err := b.run.Run(ctx, b.opts.NirCmd, "win", "activate", "process", b.exe())
	return err
}

func (b *windowsBackend) ActivateWindow(ctx context.Context, id model.ID) error {
	_, err := b.run.Run(ctx, b.opts.NirCmd, "win", "activate", "handle", string(id))
	return err
}

func (b *windowsBackend) OpenBrowser(ctx context.Context, url string) error {
	if b.opts.BrowserPath != "" {
		return b.run.Start(b.opts.BrowserPath, url)
	}
	// start resolves the browser through App Paths; the empty string is the
	// window title argument.
	b.log.Debug("launching browser via start", zap.String("browser", b.opts.Browser))
	return b.run.Start("cmd", "/c", "start", "", b.opts.Browser, url)
}
