package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"flowtabs/internal/dispatch"
	"flowtabs/internal/hub"
	"flowtabs/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	views     model.Views
	favorites map[model.Key]bool
	selected  []model.Key
	queries   []string
	updates   chan model.Views
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		views: model.Views{
			Relevant: []model.Ranked{{Item: model.Item{Kind: model.KindTab, ID: "1", Title: "Docs"}, Score: 0.9}},
			Overflow: []model.Ranked{},
		},
		favorites: map[model.Key]bool{},
		updates:   make(chan model.Views, 1),
	}
}

func (f *fakeBackend) Views(context.Context) (model.Views, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views, nil
}

func (f *fakeBackend) Subscribe() (<-chan model.Views, func()) {
	f.updates <- f.views
	return f.updates, func() {}
}

func (f *fakeBackend) SetFavorite(_ context.Context, key model.Key, fav bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.favorites[key] != fav
	f.favorites[key] = fav
	return changed, nil
}

func (f *fakeBackend) Select(_ context.Context, key model.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.views.Find(key); !ok {
		return hub.ErrNotFound
	}
	f.selected = append(f.selected, key)
	return nil
}

func (f *fakeBackend) Search(_ context.Context, q string) error {
	if strings.TrimSpace(q) == "" {
		return dispatch.ErrEmptyQuery
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return nil
}

func setup(t *testing.T) (*fakeBackend, *Client, string) {
	t.Helper()
	b := newFakeBackend()
	hs := httptest.NewServer(NewServer(b, nil).Handler())
	t.Cleanup(hs.Close)
	return b, NewClient(hs.URL), hs.URL
}

func TestViews(t *testing.T) {
	_, c, _ := setup(t)
	v, err := c.Views(context.Background())
	require.NoError(t, err)
	require.Len(t, v.Relevant, 1)
	assert.Equal(t, "Docs", v.Relevant[0].Title)
}

func TestFavorites(t *testing.T) {
	b, c, _ := setup(t)
	key := model.Key{Kind: model.KindWindow, ID: "0x1"}
	require.NoError(t, c.SetFavorite(context.Background(), key, true))
	assert.True(t, b.favorites[key])
	require.NoError(t, c.SetFavorite(context.Background(), key, false))
	assert.False(t, b.favorites[key])

	err := c.SetFavorite(context.Background(), model.Key{Kind: "pane", ID: "1"}, true)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestActivate(t *testing.T) {
	b, c, _ := setup(t)
	require.NoError(t, c.Activate(context.Background(), model.Key{Kind: model.KindTab, ID: "1"}))
	assert.Equal(t, []model.Key{{Kind: model.KindTab, ID: "1"}}, b.selected)

	err := c.Activate(context.Background(), model.Key{Kind: model.KindTab, ID: "404"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Message, "not found")

	err = c.Activate(context.Background(), model.Key{Kind: model.KindTab})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestSearch(t *testing.T) {
	b, c, _ := setup(t)
	require.NoError(t, c.Search(context.Background(), "go"))
	assert.Equal(t, []string{"go"}, b.queries)

	err := c.Search(context.Background(), " ")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestRejectsMalformedBodies(t *testing.T) {
	_, _, base := setup(t)
	for _, body := range []string{`{`, `{"query":"x","extra":1}`} {
		resp, err := http.Post(base+"/search", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	resp, err := http.Get(base + "/search")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEventsStreamsViews(t *testing.T) {
	_, _, base := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		if sc.Text() == "" {
			break
		}
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: views", lines[0])
	assert.Contains(t, lines[1], `"title":"Docs"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(hub.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestNewClientAcceptsListenAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:5000", NewClient("127.0.0.1:5000").BaseURL)
	assert.Equal(t, "http://localhost:1", NewClient("http://localhost:1/").BaseURL)
}
