package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindTab    Kind = "tab"
	KindWindow Kind = "window"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTab:
		return KindTab, nil
	case KindWindow:
		return KindWindow, nil
	default:
		return "", fmt.Errorf("unknown item kind: %q", s)
	}
}

// ID identifies an item within its kind. Browser tab ids arrive as JSON
// numbers and window handles as strings; both decode into ID.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("id: expected string or number")
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

type Key struct {
	Kind Kind `json:"kind"`
	ID   ID   `json:"id"`
}

func (k Key) String() string { return string(k.Kind) + ":" + string(k.ID) }

// Item is a tab or an OS window. Kind selects which of the kind-specific
// fields are meaningful.
type Item struct {
	Kind  Kind   `json:"kind"`
	ID    ID     `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`

	LastAccessed time.Time `json:"lastAccessed"`
	Frequency    int       `json:"frequency"`

	// Tab only.
	URL string `json:"url,omitempty"`

	// Window only.
	ProcessName string `json:"processName,omitempty"`
	ExePath     string `json:"exePath,omitempty"`
}

func (it Item) Key() Key { return Key{Kind: it.Kind, ID: it.ID} }

// Tab is the wire shape of a browser tab inside a snapshot.
type Tab struct {
	ID         ID     `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Icon       string `json:"icon,omitempty"`
	FavIconURL string `json:"favIconUrl,omitempty"`
	Active     bool   `json:"active,omitempty"`
}

func (t Tab) Item() Item {
	icon := t.Icon
	if icon == "" {
		icon = t.FavIconURL
	}
	return Item{Kind: KindTab, ID: t.ID, Title: t.Title, URL: t.URL, Icon: icon}
}

// Window is the shape reported by the OS enumeration utility.
type Window struct {
	ID          ID     `json:"id"`
	Title       string `json:"title"`
	ProcessName string `json:"processName"`
	ExePath     string `json:"exePath"`
}

func (w Window) Item() Item {
	return Item{Kind: KindWindow, ID: w.ID, Title: w.Title, ProcessName: w.ProcessName, ExePath: w.ExePath}
}

type Ranked struct {
	Item
	Score    float64 `json:"score"`
	Favorite bool    `json:"favorite"`
}

type Views struct {
	Relevant      []Ranked  `json:"relevant"`
	Overflow      []Ranked  `json:"overflow"`
	PeerConnected bool      `json:"peerConnected"`
	At            time.Time `json:"at"`
}

func (v Views) Empty() bool { return len(v.Relevant) == 0 && len(v.Overflow) == 0 }

// Find returns the ranked entry for key from either bucket.
func (v Views) Find(k Key) (Ranked, bool) {
	for _, r := range v.Relevant {
		if r.Key() == k {
			return r, true
		}
	}
	for _, r := range v.Overflow {
		if r.Key() == k {
			return r, true
		}
	}
	return Ranked{}, false
}
