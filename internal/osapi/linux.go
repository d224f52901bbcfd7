package osapi

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"flowtabs/internal/model"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// linuxBackend targets X11 desktops through wmctrl and xdotool. Window ids use
// wmctrl's zero-padded hex form so enumeration and focus agree.
type linuxBackend struct {
	opts     Options
	run      Runner
	log      *zap.Logger
	procRoot string

	// lookPath finds a browser when no explicit path is configured.
	lookPath func() (string, bool)
}

func (b *linuxBackend) Name() string { return "linux" }

func (b *linuxBackend) ListWindows(ctx context.Context) ([]model.Window, error) {
	out, err := b.run.Run(ctx, "wmctrl", "-lp")
	if err != nil {
		return nil, err
	}
	return b.parseWmctrl(out), nil
}

// parseWmctrl reads `wmctrl -lp` lines: id desktop pid host title...
func (b *linuxBackend) parseWmctrl(out []byte) []model.Window {
	windows := []model.Window{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		id, ok := normalizeWindowID(fields[0])
		if !ok {
			continue
		}
		// Sticky desktop -1 holds panels and docks.
		if fields[1] == "-1" {
			continue
		}
		title := ""
		if len(fields) > 4 {
			title = strings.Join(fields[4:], " ")
		}
		w := model.Window{ID: id, Title: title}
		if pid, err := strconv.Atoi(fields[2]); err == nil && pid > 0 {
			w.ProcessName, w.ExePath = b.process(pid)
		}
		windows = append(windows, w)
	}
	return windows
}

func (b *linuxBackend) process(pid int) (name, exe string) {
	dir := filepath.Join(b.procRoot, strconv.Itoa(pid))
	if data, err := os.ReadFile(filepath.Join(dir, "comm")); err == nil {
		name = strings.TrimSpace(string(data))
	}
	if target, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		exe = target
	}
	return name, exe
}

// normalizeWindowID accepts wmctrl hex ("0x03a00003") or xdotool decimal
// ("60817411") and returns the wmctrl form.
func normalizeWindowID(s string) (model.ID, bool) {
	s = strings.TrimSpace(s)
	var (
		n   uint64
		err error
	)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		n, err = strconv.ParseUint(rest, 16, 64)
	} else {
		n, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil || n == 0 {
		return "", false
	}
	return model.ID(fmt.Sprintf("0x%08x", n)), true
}

func (b *linuxBackend) ActiveWindow(ctx context.Context) (model.ID, error) {
	out, err := b.run.Run(ctx, "xdotool", "getactivewindow")
	if err != nil {
		return "", err
	}
	id, ok := normalizeWindowID(string(out))
	if !ok {
		return "", fmt.Errorf("osapi: unexpected xdotool output %q", strings.TrimSpace(string(out)))
	}
	return id, nil
}

func (b *linuxBackend) ExtractIcon(context.Context, string, string) error {
	return ErrUnsupported
}

func (b *linuxBackend) IsBrowserRunning(ctx context.Context) (bool, error) {
	_, err := b.run.Run(ctx, "pgrep", "-x", b.opts.Browser)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

func (b *linuxBackend) ActivateBrowser(ctx context.Context) error {
	_, err := b.run.Run(ctx, "wmctrl", "-x", "-a", b.opts.Browser)
	return err
}

func (b *linuxBackend) ActivateWindow(ctx context.Context, id model.ID) error {
	_, err := b.run.Run(ctx, "wmctrl", "-i", "-a", string(id))
	return err
}

func (b *linuxBackend) OpenBrowser(ctx context.Context, url string) error {
	path := b.opts.BrowserPath
	if path == "" {
		look := b.lookPath
		if look == nil {
			look = launcher.LookPath
		}
		found, ok := look()
		if !ok {
			return ErrBrowserNotFound
		}
		path = found
	}
	b.log.Debug("launching browser", zap.String("path", path))
	return b.run.Start(path, url)
}
