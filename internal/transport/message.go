package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"flowtabs/internal/model"
)

const (
	ActionSnapshot     = "snapshot"
	ActionTabActivated = "tabActivated"
	ActionTabUpdated   = "tabUpdated"
	ActionTabRemoved   = "tabRemoved"

	ActionActivateTab = "activateTab"
	ActionSearch      = "search"
)

var (
	ErrMalformed     = errors.New("transport: malformed message")
	ErrUnknownAction = errors.New("transport: unknown action")
)

// envelope is the union of every payload key used on the wire.
type envelope struct {
	Action string          `json:"action"`
	Tabs   json.RawMessage `json:"tabs,omitempty"`
	ID     model.ID        `json:"id,omitempty"`
	URL    string          `json:"url,omitempty"`
}

// Inbound is a parsed message from the browser-side agent.
type Inbound struct {
	Action string
	// Tabs is set for snapshots.
	Tabs []model.Tab
	// ID is set for tab events.
	ID model.ID
	// Skipped counts snapshot entries dropped for lacking an id.
	Skipped int
}

// ParseInbound decodes one agent message. A message without an action but
// with a "tabs" key is a snapshot.
func ParseInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	action := strings.TrimSpace(env.Action)
	if action == "" && env.Tabs != nil {
		action = ActionSnapshot
	}

	switch action {
	case ActionSnapshot:
		var raw []model.Tab
		if len(env.Tabs) > 0 && string(env.Tabs) != "null" {
			if err := json.Unmarshal(env.Tabs, &raw); err != nil {
				return Inbound{}, fmt.Errorf("%w: tabs: %v", ErrMalformed, err)
			}
		}
		in := Inbound{Action: ActionSnapshot, Tabs: make([]model.Tab, 0, len(raw))}
		for _, t := range raw {
			if t.ID == "" {
				in.Skipped++
				continue
			}
			in.Tabs = append(in.Tabs, t)
		}
		return in, nil
	case ActionTabActivated, ActionTabUpdated, ActionTabRemoved:
		if env.ID == "" {
			return Inbound{}, fmt.Errorf("%w: %s without id", ErrMalformed, action)
		}
		return Inbound{Action: action, ID: env.ID}, nil
	case "":
		return Inbound{}, fmt.Errorf("%w: missing action", ErrMalformed)
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Outbound is a command sent to the browser-side agent.
type Outbound struct {
	Action string   `json:"action"`
	ID     model.ID `json:"id,omitempty"`
	URL    string   `json:"url,omitempty"`
}

// MarshalJSON writes canonical integer ids as JSON numbers. Browser tab ids
// are integers and the agent passes them straight to the tabs API. Any other
// id, "007" included, goes back as the string it arrived as.
func (o Outbound) MarshalJSON() ([]byte, error) {
	var id any
	if o.ID != "" {
		id = string(o.ID)
		if n, err := strconv.ParseInt(string(o.ID), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(o.ID) {
			id = n
		}
	}
	return json.Marshal(struct {
		Action string `json:"action"`
		ID     any    `json:"id,omitempty"`
		URL    string `json:"url,omitempty"`
	}{o.Action, id, o.URL})
}

func ActivateTab(id model.ID) Outbound { return Outbound{Action: ActionActivateTab, ID: id} }
func Search(url string) Outbound       { return Outbound{Action: ActionSearch, URL: url} }

// ParseOutbound decodes a command on the agent side.
func ParseOutbound(data []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Outbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Action {
	case ActionActivateTab:
		if env.ID == "" {
			return Outbound{}, fmt.Errorf("%w: activateTab without id", ErrMalformed)
		}
		return ActivateTab(env.ID), nil
	case ActionSearch:
		if strings.TrimSpace(env.URL) == "" {
			return Outbound{}, fmt.Errorf("%w: search without url", ErrMalformed)
		}
		return Search(env.URL), nil
	default:
		return Outbound{}, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
}

// SnapshotMessage builds the message an agent pushes on every (re)connect.
func SnapshotMessage(tabs []model.Tab) any {
	if tabs == nil {
		tabs = []model.Tab{}
	}
	return struct {
		Action string      `json:"action"`
		Tabs   []model.Tab `json:"tabs"`
	}{Action: ActionSnapshot, Tabs: tabs}
}

// TabEventMessage builds a tabActivated/tabUpdated/tabRemoved message.
func TabEventMessage(action string, id model.ID) any {
	return struct {
		Action string   `json:"action"`
		ID     model.ID `json:"id"`
	}{Action: action, ID: id}
}
