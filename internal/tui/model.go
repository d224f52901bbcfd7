package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flowtabs/internal/model"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	paneRelevant = iota
	paneOverflow
)

const statusTTL = 4 * time.Second

type (
	viewsMsg       model.Views
	viewsClosedMsg struct{}
	actionMsg      struct {
		desc string
		err  error
	}
	clearStatusMsg struct{ seq int }
)

// listenViews blocks for the next published views.
func listenViews(ch <-chan model.Views) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return viewsClosedMsg{}
		}
		return viewsMsg(v)
	}
}

type appModel struct {
	backend Backend
	views   <-chan model.Views
	hide    []string
	timeout time.Duration

	keys  keyMap
	help  help.Model
	lists [2]list.Model
	focus int

	input     textinput.Model
	searching bool
	showHelp  bool

	connected bool
	status    string
	statusErr bool
	statusSeq int

	width  int
	height int
}

func newAppModel(b Backend, views <-chan model.Views, opts Options) appModel {
	in := textinput.New()
	in.Prompt = "search: "
	in.Placeholder = "query"
	in.CharLimit = 512

	m := appModel{
		backend: b,
		views:   views,
		hide:    opts.HidePrefixes,
		timeout: opts.Timeout,
		keys:    defaultKeyMap(),
		help:    help.New(),
		input:   in,
	}
	m.lists[paneRelevant] = newList("Relevant")
	m.lists[paneOverflow] = newList("Overflow")
	return m
}

func newList(title string) list.Model {
	l := list.New(nil, newRankedDelegate(), 0, 0)
	l.Title = title
	// Headings and help are rendered by the app, keep list chrome off.
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetShowPagination(false)
	l.SetFilteringEnabled(false)
	l.KeyMap.CursorUp.SetKeys(append(l.KeyMap.CursorUp.Keys(), "ctrl+p")...)
	l.KeyMap.CursorDown.SetKeys(append(l.KeyMap.CursorDown.Keys(), "ctrl+n")...)
	return l
}

func (m appModel) Init() tea.Cmd {
	return listenViews(m.views)
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case viewsMsg:
		m.setViews(model.Views(msg))
		return m, listenViews(m.views)

	case viewsClosedMsg:
		return m, tea.Quit

	case actionMsg:
		return m.setStatus(msg.desc, msg.err)

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status, m.statusErr = "", false
		}
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m appModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}
	if m.searching {
		return m.updateSearch(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Switch):
		m.focus = 1 - m.focus
		return m, nil
	case key.Matches(msg, m.keys.Activate):
		if it, ok := m.selected(); ok {
			return m, m.activate(it)
		}
		return m, nil
	case key.Matches(msg, m.keys.Favorite):
		if it, ok := m.selected(); ok {
			return m, m.toggleFavorite(it)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.lists[m.focus], cmd = m.lists[m.focus].Update(msg)
	return m, cmd
}

func (m appModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.searching = false
		m.input.Reset()
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		q := strings.TrimSpace(m.input.Value())
		m.searching = false
		m.input.Reset()
		m.input.Blur()
		if q == "" {
			return m, nil
		}
		return m, m.search(q)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m appModel) selected() (rankedItem, bool) {
	it, ok := m.lists[m.focus].SelectedItem().(rankedItem)
	return it, ok
}

// setViews replaces both lists, keeping the cursor on the same item when it
// is still present.
func (m *appModel) setViews(v model.Views) {
	m.connected = v.PeerConnected
	for pane, ranked := range [2][]model.Ranked{v.Relevant, v.Overflow} {
		var prev model.Key
		if it, ok := m.lists[pane].SelectedItem().(rankedItem); ok {
			prev = it.Key()
		}
		items := make([]list.Item, 0, len(ranked))
		sel := 0
		for _, r := range ranked {
			if m.hidden(r.Item) {
				continue
			}
			if r.Key() == prev {
				sel = len(items)
			}
			items = append(items, rankedItem{r})
		}
		m.lists[pane].SetItems(items)
		m.lists[pane].Select(sel)
	}
	if len(m.lists[m.focus].Items()) == 0 && len(m.lists[1-m.focus].Items()) > 0 {
		m.focus = 1 - m.focus
	}
	if m.width > 0 {
		m.resize()
	}
}

func (m appModel) hidden(it model.Item) bool {
	if it.Kind != model.KindTab {
		return false
	}
	for _, p := range m.hide {
		if p != "" && strings.HasPrefix(it.URL, p) {
			return true
		}
	}
	return false
}

func (m *appModel) resize() {
	// header, two headings, status line and help line
	avail := max(m.height-5, 2)
	top := max(avail/2, 1)
	if n := len(m.lists[paneOverflow].Items()); n < avail-top {
		top = max(avail-n, 1)
	}
	m.lists[paneRelevant].SetSize(m.width, top)
	m.lists[paneOverflow].SetSize(m.width, max(avail-top, 1))
	m.help.Width = m.width
}

func (m appModel) setStatus(desc string, err error) (tea.Model, tea.Cmd) {
	m.statusSeq++
	if err != nil {
		m.status, m.statusErr = fmt.Sprintf("%s: %v", desc, err), true
	} else {
		m.status, m.statusErr = desc, false
	}
	seq := m.statusSeq
	return m, tea.Tick(statusTTL, func(time.Time) tea.Msg { return clearStatusMsg{seq: seq} })
}

func (m appModel) call(desc string, fn func(context.Context) error) tea.Cmd {
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return actionMsg{desc: desc, err: fn(ctx)}
	}
}

func (m appModel) activate(it rankedItem) tea.Cmd {
	b, k := m.backend, it.Key()
	return m.call("activate "+it.Title(), func(ctx context.Context) error {
		return b.Select(ctx, k)
	})
}

func (m appModel) toggleFavorite(it rankedItem) tea.Cmd {
	b, k, fav := m.backend, it.Key(), !it.Favorite
	desc := "unpinned " + it.Title()
	if fav {
		desc = "pinned " + it.Title()
	}
	return m.call(desc, func(ctx context.Context) error {
		_, err := b.SetFavorite(ctx, k, fav)
		return err
	})
}

func (m appModel) search(q string) tea.Cmd {
	b := m.backend
	return m.call("search "+q, func(ctx context.Context) error {
		return b.Search(ctx, q)
	})
}

func (m appModel) View() string {
	if m.showHelp {
		return renderMarkdown(helpMarkdown(m.keys), m.width)
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteByte('\n')
	for pane := range m.lists {
		l := m.lists[pane]
		b.WriteString(styleHeading(pane == m.focus).Render(fmt.Sprintf("%s (%d)", l.Title, len(l.Items()))))
		b.WriteByte('\n')
		if len(l.Items()) == 0 {
			b.WriteString(styleMuted().Render("  nothing here"))
		} else {
			b.WriteString(l.View())
		}
		b.WriteByte('\n')
	}
	b.WriteString(m.footer())
	b.WriteByte('\n')
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m appModel) header() string {
	title := lipgloss.NewStyle().Bold(true).Render("flowtabs")
	state := lipgloss.NewStyle().Foreground(colorOK).Render("● browser connected")
	if !m.connected {
		state = styleMuted().Render("○ waiting for browser")
	}
	return title + "  " + state
}

func (m appModel) footer() string {
	switch {
	case m.searching:
		return m.input.View()
	case m.status == "":
		return ""
	case m.statusErr:
		return lipgloss.NewStyle().Foreground(colorError).Render(m.status)
	default:
		return styleMuted().Render(m.status)
	}
}
