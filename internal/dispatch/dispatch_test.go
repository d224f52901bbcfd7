package dispatch

import (
	"context"
	"errors"
	"testing"

	"flowtabs/internal/model"
	"flowtabs/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOS struct {
	running     bool
	runningErr  error
	activateErr error

	calls []string
}

func (f *fakeOS) IsBrowserRunning(context.Context) (bool, error) {
	f.calls = append(f.calls, "running?")
	return f.running, f.runningErr
}

func (f *fakeOS) ActivateBrowser(context.Context) error {
	f.calls = append(f.calls, "activateBrowser")
	return f.activateErr
}

func (f *fakeOS) ActivateWindow(_ context.Context, id model.ID) error {
	f.calls = append(f.calls, "activateWindow:"+string(id))
	return f.activateErr
}

func (f *fakeOS) OpenBrowser(_ context.Context, url string) error {
	f.calls = append(f.calls, "open:"+url)
	return nil
}

type fakePeer struct {
	connected bool
	sent      []any
}

func (p *fakePeer) Send(v any) bool {
	if !p.connected {
		return false
	}
	p.sent = append(p.sent, v)
	return true
}

func TestSelect_TabRaisesBrowserThenSendsActivate(t *testing.T) {
	os := &fakeOS{}
	peer := &fakePeer{connected: true}
	d := New(os, peer, "", nil)

	require.NoError(t, d.Select(context.Background(), model.Item{Kind: model.KindTab, ID: "42"}))
	assert.Equal(t, []string{"activateBrowser"}, os.calls)
	assert.Equal(t, []any{transport.ActivateTab("42")}, peer.sent)
}

func TestSelect_TabStillSendsWhenBrowserActivationFails(t *testing.T) {
	os := &fakeOS{activateErr: errors.New("nircmd missing")}
	peer := &fakePeer{connected: true}
	err := New(os, peer, "", nil).Select(context.Background(), model.Item{Kind: model.KindTab, ID: "1"})
	assert.Error(t, err)
	assert.Len(t, peer.sent, 1)
}

func TestSelect_TabWithoutPeerIsDroppedSilently(t *testing.T) {
	peer := &fakePeer{}
	require.NoError(t, New(&fakeOS{}, peer, "", nil).Select(context.Background(), model.Item{Kind: model.KindTab, ID: "1"}))
	assert.Empty(t, peer.sent)
}

func TestSelect_WindowNeverTouchesTransport(t *testing.T) {
	os := &fakeOS{}
	peer := &fakePeer{connected: true}
	require.NoError(t, New(os, peer, "", nil).Select(context.Background(), model.Item{Kind: model.KindWindow, ID: "0x01"}))
	assert.Equal(t, []string{"activateWindow:0x01"}, os.calls)
	assert.Empty(t, peer.sent)
}

func TestSelect_UnknownKind(t *testing.T) {
	assert.Error(t, New(&fakeOS{}, &fakePeer{}, "", nil).Select(context.Background(), model.Item{Kind: "pane", ID: "1"}))
}

func TestSearchURL(t *testing.T) {
	d := New(&fakeOS{}, &fakePeer{}, "", nil)
	tests := []struct{ in, want string }{
		{"golang generics", "https://www.google.com/search?q=golang%20generics"},
		{"  a&b=c  ", "https://www.google.com/search?q=a%26b%3Dc"},
		{"日本", "https://www.google.com/search?q=%E6%97%A5%E6%9C%AC"},
	}
	for _, tt := range tests {
		got, err := d.SearchURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := d.SearchURL(" \t ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	custom := New(&fakeOS{}, &fakePeer{}, "https://duckduckgo.com/?q=", nil)
	got, err := custom.SearchURL("x y")
	require.NoError(t, err)
	assert.Equal(t, "https://duckduckgo.com/?q=x%20y", got)
}

func TestSearch_BrowserRunning(t *testing.T) {
	os := &fakeOS{running: true}
	peer := &fakePeer{connected: true}
	require.NoError(t, New(os, peer, "", nil).Search(context.Background(), "go"))
	assert.Equal(t, []string{"running?", "activateBrowser"}, os.calls)
	assert.Equal(t, []any{transport.Search("https://www.google.com/search?q=go")}, peer.sent)
}

func TestSearch_BrowserNotRunningOpensOnly(t *testing.T) {
	os := &fakeOS{}
	peer := &fakePeer{connected: true}
	require.NoError(t, New(os, peer, "", nil).Search(context.Background(), "go"))
	assert.Equal(t, []string{"running?", "open:https://www.google.com/search?q=go"}, os.calls)
	assert.Empty(t, peer.sent)
}

func TestSearch_EmptyQueryDoesNothing(t *testing.T) {
	os := &fakeOS{running: true}
	peer := &fakePeer{connected: true}
	assert.ErrorIs(t, New(os, peer, "", nil).Search(context.Background(), ""), ErrEmptyQuery)
	assert.Empty(t, os.calls)
	assert.Empty(t, peer.sent)
}

func TestSearch_RunningCheckFailureFallsBackToLaunch(t *testing.T) {
	os := &fakeOS{runningErr: errors.New("tasklist: not found")}
	require.NoError(t, New(os, &fakePeer{}, "", nil).Search(context.Background(), "go"))
	assert.Contains(t, os.calls, "open:https://www.google.com/search?q=go")
}
