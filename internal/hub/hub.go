// Package hub owns the companion's state. Transport events, poll results and
// user commands are all applied on one loop goroutine, and every mutation is
// followed by a fresh publish of the ranked views.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"flowtabs/internal/model"
	"flowtabs/internal/osapi"
	"flowtabs/internal/poller"
	"flowtabs/internal/relevance"
	"flowtabs/internal/repo"
	"flowtabs/internal/transport"

	"go.uber.org/zap"
)

var (
	ErrClosed   = errors.New("hub: closed")
	ErrNotFound = errors.New("hub: item not found")
)

// Dispatcher performs activation and search side effects.
type Dispatcher interface {
	Select(ctx context.Context, it model.Item) error
	Search(ctx context.Context, query string) error
	SearchURL(query string) (string, error)
}

// IconSource extracts an executable's icon into a PNG file.
type IconSource interface {
	ExtractIcon(ctx context.Context, exePath, dest string) error
}

type Options struct {
	Repo     *repo.Repository
	Engine   *relevance.Engine
	Dispatch Dispatcher
	Icons    IconSource
	Cache    *osapi.IconCache
	Logger   *zap.Logger
}

// Settings are the knobs that can change while the hub runs.
type Settings struct {
	Exclude []string
	Policy  repo.AccessPolicy
}

type Hub struct {
	repo     *repo.Repository
	engine   *relevance.Engine
	dispatch Dispatcher
	icons    IconSource
	cache    *osapi.IconCache
	log      *zap.Logger

	calls chan func()
	done  chan struct{}

	jobCtx    context.Context
	jobCancel context.CancelFunc
	jobs      sync.WaitGroup

	// Loop-owned.
	connected        bool
	iconPending      map[model.Key]bool
	iconsUnsupported bool
	// activeTabs holds the tabs the last snapshot reported active, one per
	// browser window.
	activeTabs map[model.ID]bool

	subMu  sync.Mutex
	subs   map[int]chan model.Views
	nextID int
	latest model.Views
}

func New(opts Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := opts.Repo
	if r == nil {
		r = repo.New(repo.Options{})
	}
	e := opts.Engine
	if e == nil {
		e = relevance.New(nil)
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	return &Hub{
		repo:        r,
		engine:      e,
		dispatch:    opts.Dispatch,
		icons:       opts.Icons,
		cache:       opts.Cache,
		log:         log,
		calls:       make(chan func()),
		done:        make(chan struct{}),
		jobCtx:      jobCtx,
		jobCancel:   cancel,
		iconPending: map[model.Key]bool{},
		subs:        map[int]chan model.Views{},
		latest:      model.Views{Relevant: []model.Ranked{}, Overflow: []model.Ranked{}},
	}
}

// Run processes events until ctx ends. On return, in-flight dispatches and
// icon jobs have finished and the icon cache is purged.
func (h *Hub) Run(ctx context.Context, events <-chan transport.Event) error {
	defer h.teardown()
	h.publish()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			h.handleTransport(ev)
		case fn := <-h.calls:
			fn()
		}
	}
}

func (h *Hub) teardown() {
	close(h.done)
	h.jobCancel()
	h.jobs.Wait()
	if h.cache != nil {
		if err := h.cache.Purge(); err != nil {
			h.log.Warn("purge icon cache", zap.Error(err))
		}
	}
	h.subMu.Lock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.subMu.Unlock()
}

// exec runs fn on the loop goroutine and waits for it.
func (h *Hub) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.calls <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once dequeued, fn runs to completion before the loop can exit.
	<-finished
	return nil
}

// post queues fn without waiting. It is dropped once the hub has stopped.
func (h *Hub) post(fn func()) {
	select {
	case h.calls <- fn:
	case <-h.done:
	}
}

func (h *Hub) spawn(fn func(ctx context.Context)) {
	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		fn(h.jobCtx)
	}()
}

func (h *Hub) handleTransport(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		h.connected = true
		h.log.Info("browser peer connected", zap.String("peer", ev.PeerID))
	case transport.EventDisconnected:
		h.connected = false
		h.repo.Clear()
		h.iconPending = map[model.Key]bool{}
		h.activeTabs = nil
		h.log.Info("browser peer lost; state cleared", zap.String("peer", ev.PeerID))
	case transport.EventMessage:
		h.applyMessage(ev.Message)
	}
	h.publish()
}

func (h *Hub) applyMessage(msg transport.Inbound) {
	key := model.Key{Kind: model.KindTab, ID: msg.ID}
	switch msg.Action {
	case transport.ActionSnapshot:
		h.repo.MergeTabs(msg.Tabs)
		// Only a tab that just became active counts. Snapshots are resent on
		// every tab change and carry one active tab per window.
		active := make(map[model.ID]bool)
		for _, t := range msg.Tabs {
			if !t.Active {
				continue
			}
			active[t.ID] = true
			if !h.activeTabs[t.ID] {
				h.repo.Access(model.Key{Kind: model.KindTab, ID: t.ID})
			}
		}
		h.activeTabs = active
		h.log.Debug("snapshot merged", zap.Int("tabs", len(msg.Tabs)))
	case transport.ActionTabActivated:
		h.repo.Access(key)
	case transport.ActionTabUpdated:
		if !h.repo.Update(key) {
			h.log.Debug("update for unknown tab", zap.String("tab", string(msg.ID)))
		}
	case transport.ActionTabRemoved:
		h.repo.Remove(key)
	default:
		h.log.Warn("unhandled action", zap.String("action", msg.Action))
	}
}

// HandlePoll feeds one poller cycle into the loop. It is safe to pass as the
// poller's sink.
func (h *Hub) HandlePoll(res poller.Result) {
	h.post(func() { h.applyPoll(res) })
}

func (h *Hub) applyPoll(res poller.Result) {
	if res.OK() {
		h.repo.MergeWindows(res.Windows)
		h.scheduleIcons()
	}
	if res.ActiveErr == nil && res.Active != "" {
		h.repo.Access(model.Key{Kind: model.KindWindow, ID: res.Active})
	}
	// Publishing on every tick also re-decays recency.
	h.publish()
}

func (h *Hub) scheduleIcons() {
	if h.icons == nil || h.cache == nil || h.iconsUnsupported {
		return
	}
	for _, it := range h.repo.Items() {
		if it.Kind != model.KindWindow || it.Icon != "" || it.ExePath == "" {
			continue
		}
		key := it.Key()
		if h.iconPending[key] {
			continue
		}
		dest, err := h.cache.Path(key)
		if err != nil {
			h.log.Warn("icon cache unavailable", zap.Error(err))
			return
		}
		h.iconPending[key] = true
		exe := it.ExePath
		h.spawn(func(ctx context.Context) {
			err := h.icons.ExtractIcon(ctx, exe, dest)
			h.post(func() { h.iconDone(key, dest, err) })
		})
	}
}

func (h *Hub) iconDone(key model.Key, dest string, err error) {
	delete(h.iconPending, key)
	switch {
	case errors.Is(err, osapi.ErrUnsupported):
		h.iconsUnsupported = true
		return
	case err != nil:
		h.log.Warn("icon extraction failed", zap.String("window", string(key.ID)), zap.Error(err))
		return
	}
	if h.repo.SetIcon(key, dest) {
		h.publish()
	}
}

func (h *Hub) publish() {
	v := h.engine.Partition(h.repo.Items(), h.repo.IsFavorite)
	v.PeerConnected = h.connected

	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.latest = v
	for _, ch := range h.subs {
		offer(ch, v)
	}
}

// offer replaces whatever the subscriber has not consumed yet.
func offer(ch chan model.Views, v model.Views) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Subscribe returns a channel carrying the latest views. Slow readers only
// ever see the most recent publish. The channel is closed when the hub stops
// or cancel is called.
func (h *Hub) Subscribe() (<-chan model.Views, func()) {
	ch := make(chan model.Views, 1)
	h.subMu.Lock()
	id := h.nextID
	h.nextID++
	select {
	case <-h.done:
		close(ch)
		h.subMu.Unlock()
		return ch, func() {}
	default:
	}
	h.subs[id] = ch
	ch <- h.latest
	h.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.subMu.Lock()
			defer h.subMu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
}

// Views recomputes the ranked views against the current time.
func (h *Hub) Views(ctx context.Context) (model.Views, error) {
	var v model.Views
	err := h.exec(ctx, func() {
		v = h.engine.Partition(h.repo.Items(), h.repo.IsFavorite)
		v.PeerConnected = h.connected
	})
	return v, err
}

// SetFavorite pins or unpins key. Keys need not refer to a present item.
func (h *Hub) SetFavorite(ctx context.Context, key model.Key, favorite bool) (bool, error) {
	var changed bool
	err := h.exec(ctx, func() {
		if favorite {
			changed = h.repo.AddFavorite(key)
		} else {
			changed = h.repo.RemoveFavorite(key)
		}
		if changed {
			h.publish()
		}
	})
	return changed, err
}

// Select activates the item behind key. The lookup is synchronous; the OS
// and transport side effects run in the background.
func (h *Hub) Select(ctx context.Context, key model.Key) error {
	if h.dispatch == nil {
		return errors.New("hub: no dispatcher configured")
	}
	var (
		it    model.Item
		found bool
	)
	if err := h.exec(ctx, func() {
		it, found = h.repo.Get(key)
		if found {
			h.spawn(func(ctx context.Context) {
				if err := h.dispatch.Select(ctx, it); err != nil {
					h.log.Warn("select failed", zap.Stringer("item", key), zap.Error(err))
				}
			})
		}
	}); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Search validates query and runs the search in the background.
func (h *Hub) Search(ctx context.Context, query string) error {
	if h.dispatch == nil {
		return errors.New("hub: no dispatcher configured")
	}
	if _, err := h.dispatch.SearchURL(query); err != nil {
		return err
	}
	return h.exec(ctx, func() {
		h.spawn(func(ctx context.Context) {
			if err := h.dispatch.Search(ctx, query); err != nil {
				h.log.Warn("search failed", zap.Error(err))
			}
		})
	})
}

// Reconfigure applies settings that may change at runtime. Exclusions take
// effect on the next window merge.
func (h *Hub) Reconfigure(ctx context.Context, s Settings) error {
	return h.exec(ctx, func() {
		h.repo.SetExclusions(s.Exclude)
		h.repo.SetPolicy(s.Policy)
		h.log.Info("settings reloaded", zap.Strings("exclude", s.Exclude), zap.Duration("cooldown", s.Policy.Cooldown))
	})
}
