// Package poller samples the desktop's window list and focused window on a
// fixed interval.
package poller

import (
	"context"
	"errors"
	"time"

	"flowtabs/internal/model"
	"flowtabs/internal/osapi"

	"go.uber.org/zap"
)

const DefaultInterval = 2 * time.Second

// Source is the slice of the OS capability the poller needs.
type Source interface {
	ListWindows(ctx context.Context) ([]model.Window, error)
	ActiveWindow(ctx context.Context) (model.ID, error)
}

// Result is one sampling cycle. A failed step leaves its field zero and sets
// the matching error; the other step still runs.
type Result struct {
	Windows   []model.Window
	WindowErr error
	Active    model.ID
	ActiveErr error
	At        time.Time
}

// OK reports whether the window list is usable.
func (r Result) OK() bool { return r.WindowErr == nil }

type Poller struct {
	src      Source
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func New(src Source, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{src: src, interval: interval, log: log, now: time.Now}
}

// Poll runs a single cycle.
func (p *Poller) Poll(ctx context.Context) Result {
	res := Result{At: p.now()}
	res.Windows, res.WindowErr = p.src.ListWindows(ctx)
	res.Active, res.ActiveErr = p.src.ActiveWindow(ctx)
	return res
}

// Run polls immediately and then on every tick until ctx ends, handing each
// result to sink. Cycles run sequentially so they never overlap; ticks missed
// while a slow cycle runs are dropped.
func (p *Poller) Run(ctx context.Context, sink func(Result)) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	unsupportedLogged := false
	for {
		res := p.Poll(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(res.WindowErr, osapi.ErrUnsupported):
			if !unsupportedLogged {
				p.log.Info("window enumeration not supported; windows stay empty")
				unsupportedLogged = true
			}
		case res.WindowErr != nil:
			p.log.Warn("list windows failed", zap.Error(res.WindowErr))
		}
		if res.ActiveErr != nil && !errors.Is(res.ActiveErr, osapi.ErrUnsupported) {
			p.log.Debug("active window failed", zap.Error(res.ActiveErr))
		}
		sink(res)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
