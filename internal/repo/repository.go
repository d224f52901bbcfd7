// Package repo holds the canonical set of known tabs and windows.
//
// The repository merges full enumerations into identity-keyed maps, applies
// access and update events to usage fields, and owns the favorites set. It is
// not safe for concurrent use; the hub drives it from a single goroutine.
package repo

import (
	"sort"
	"strings"
	"time"

	"flowtabs/internal/model"
)

type Clock func() time.Time

// AccessPolicy controls when an access event counts towards frequency.
//
// A switch to a different item always counts. With a non-zero Cooldown, a
// switch back to an item last accessed less than Cooldown ago does not.
type AccessPolicy struct {
	Cooldown time.Duration
}

type Options struct {
	Now     Clock
	Policy  AccessPolicy
	Exclude []string
}

type entry struct {
	item model.Item
	seq  uint64
}

type Repository struct {
	now     Clock
	policy  AccessPolicy
	exclude map[string]struct{}

	items     map[model.Kind]map[model.ID]*entry
	favorites map[model.Key]struct{}

	// lastActive is tracked per kind: tab activations and window focus
	// changes arrive on independent streams.
	lastActive map[model.Kind]model.ID

	seq uint64
}

func New(opts Options) *Repository {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Repository{
		now:        now,
		policy:     opts.Policy,
		favorites:  map[model.Key]struct{}{},
		lastActive: map[model.Kind]model.ID{},
	}
	r.SetExclusions(opts.Exclude)
	r.Clear()
	return r
}

// SetExclusions replaces the process-name block-list used for windows.
func (r *Repository) SetExclusions(names []string) {
	r.exclude = map[string]struct{}{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		r.exclude[n] = struct{}{}
	}
}

func (r *Repository) SetPolicy(p AccessPolicy) { r.policy = p }

func (r *Repository) excluded(it model.Item) bool {
	if it.Kind != model.KindWindow {
		return false
	}
	_, ok := r.exclude[strings.ToLower(strings.TrimSpace(it.ProcessName))]
	return ok
}

func (r *Repository) MergeTabs(tabs []model.Tab) {
	items := make([]model.Item, 0, len(tabs))
	for _, t := range tabs {
		items = append(items, t.Item())
	}
	r.merge(model.KindTab, items)
}

func (r *Repository) MergeWindows(wins []model.Window) {
	items := make([]model.Item, 0, len(wins))
	for _, w := range wins {
		items = append(items, w.Item())
	}
	r.merge(model.KindWindow, items)
}

// merge makes the canonical set of kind match d. New ids start with
// frequency 0 and lastAccessed now; known ids only get display fields.
func (r *Repository) merge(kind model.Kind, d []model.Item) {
	set := r.items[kind]
	seen := make(map[model.ID]struct{}, len(d))
	now := r.now()

	for _, in := range d {
		if in.ID == "" {
			continue
		}
		in.Kind = kind
		seen[in.ID] = struct{}{}
		if r.excluded(in) {
			continue
		}
		e, ok := set[in.ID]
		if !ok {
			r.seq++
			in.Frequency = 0
			in.LastAccessed = now
			set[in.ID] = &entry{item: in, seq: r.seq}
			continue
		}
		e.item.Title = in.Title
		if in.Icon != "" {
			e.item.Icon = in.Icon
		}
		switch kind {
		case model.KindTab:
			e.item.URL = in.URL
		case model.KindWindow:
			e.item.ProcessName = in.ProcessName
			e.item.ExePath = in.ExePath
		}
	}

	for id, e := range set {
		if _, ok := seen[id]; !ok || r.excluded(e.item) {
			delete(set, id)
		}
	}
}

// Access records an explicit activation of key. It reports whether the item
// is known. The key becomes the previously-active key of its kind even when
// unknown, so leaving for an untracked item and coming back counts again.
func (r *Repository) Access(key model.Key) bool {
	prev, hadPrev := r.lastActive[key.Kind]
	r.lastActive[key.Kind] = key.ID

	e, ok := r.items[key.Kind][key.ID]
	if !ok {
		return false
	}
	now := r.now()
	counts := !hadPrev || prev != key.ID
	if counts && r.policy.Cooldown > 0 && now.Sub(e.item.LastAccessed) < r.policy.Cooldown {
		counts = false
	}
	if counts {
		e.item.Frequency++
	}
	if now.After(e.item.LastAccessed) {
		e.item.LastAccessed = now
	}
	return true
}

// Update records a content change without activation: frequency restarts
// at 1 so the item is weighted fresh rather than cumulatively.
func (r *Repository) Update(key model.Key) bool {
	e, ok := r.items[key.Kind][key.ID]
	if !ok {
		return false
	}
	e.item.Frequency = 1
	if now := r.now(); now.After(e.item.LastAccessed) {
		e.item.LastAccessed = now
	}
	return true
}

func (r *Repository) Remove(key model.Key) bool {
	set := r.items[key.Kind]
	if _, ok := set[key.ID]; !ok {
		return false
	}
	delete(set, key.ID)
	if r.lastActive[key.Kind] == key.ID {
		delete(r.lastActive, key.Kind)
	}
	return true
}

// SetIcon stores an icon-resolution result for a known item.
func (r *Repository) SetIcon(key model.Key, icon string) bool {
	e, ok := r.items[key.Kind][key.ID]
	if !ok || strings.TrimSpace(icon) == "" {
		return false
	}
	e.item.Icon = icon
	return true
}

// Clear drops every item of every kind. Favorites survive.
func (r *Repository) Clear() {
	r.items = map[model.Kind]map[model.ID]*entry{
		model.KindTab:    {},
		model.KindWindow: {},
	}
	r.lastActive = map[model.Kind]model.ID{}
}

func (r *Repository) Get(key model.Key) (model.Item, bool) {
	e, ok := r.items[key.Kind][key.ID]
	if !ok {
		return model.Item{}, false
	}
	return e.item, true
}

func (r *Repository) Len(kind model.Kind) int { return len(r.items[kind]) }

// Items returns a copy of every item, tabs first, each kind in first-seen order.
func (r *Repository) Items() []model.Item {
	var out []model.Item
	for _, kind := range []model.Kind{model.KindTab, model.KindWindow} {
		es := make([]*entry, 0, len(r.items[kind]))
		for _, e := range r.items[kind] {
			es = append(es, e)
		}
		sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
		for _, e := range es {
			out = append(out, e.item)
		}
	}
	if out == nil {
		out = []model.Item{}
	}
	return out
}
