package tui

import (
	"fmt"
	"io"
	"strings"

	"flowtabs/internal/model"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
)

// rankedItem adapts a ranked entry to bubbles/list.
type rankedItem struct {
	model.Ranked
}

func (i rankedItem) FilterValue() string { return i.Item.Title }

func (i rankedItem) Title() string {
	if t := strings.TrimSpace(i.Item.Title); t != "" {
		return t
	}
	switch i.Kind {
	case model.KindTab:
		return i.URL
	case model.KindWindow:
		return i.ProcessName
	default:
		return string(i.ID)
	}
}

func kindBadge(k model.Kind) string {
	switch k {
	case model.KindTab:
		return "tab"
	case model.KindWindow:
		return "win"
	default:
		return "?"
	}
}

// rankedDelegate renders one row per item: favorite marker, kind, title and
// a right-aligned score.
type rankedDelegate struct {
	normal   lipgloss.Style
	selected lipgloss.Style
	star     lipgloss.Style
	meta     lipgloss.Style
}

func newRankedDelegate() rankedDelegate {
	return rankedDelegate{
		normal:   lipgloss.NewStyle(),
		selected: lipgloss.NewStyle().Foreground(colorSelectedFg).Background(colorSelectedBg).Bold(true),
		star:     lipgloss.NewStyle().Foreground(colorFavorite),
		meta:     styleMuted(),
	}
}

func (d rankedDelegate) Height() int                             { return 1 }
func (d rankedDelegate) Spacing() int                            { return 0 }
func (d rankedDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d rankedDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(rankedItem)
	width := m.Width()
	if !ok || width < 12 {
		return
	}
	fmt.Fprint(w, d.renderRow(it, width, index == m.Index()))
}

func (d rankedDelegate) renderRow(it rankedItem, width int, selected bool) string {
	marker := "  "
	if it.Favorite {
		marker = "★ "
	}
	badge := kindBadge(it.Kind) + " "
	score := fmt.Sprintf(" %.2f", it.Score)

	titleW := width - xansi.StringWidth(marker) - len(badge) - len(score)
	title := xansi.Truncate(it.Title(), max(titleW, 1), "…")
	if pad := titleW - xansi.StringWidth(title); pad > 0 {
		title += strings.Repeat(" ", pad)
	}

	if selected {
		return d.selected.Render(marker + badge + title + score)
	}
	if it.Favorite {
		marker = d.star.Render(marker)
	}
	return marker + d.meta.Render(badge) + d.normal.Render(title) + d.meta.Render(score)
}
