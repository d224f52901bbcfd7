package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FLOWTABS_CONFIG_DIR", dir)
	t.Setenv("FLOWTABS_CONFIG", "")
	return dir
}

func TestOpen_DefaultsWithoutFile(t *testing.T) {
	dir := isolate(t)
	src, err := Open("")
	require.NoError(t, err)
	assert.False(t, src.FileUsed())
	assert.Equal(t, filepath.Join(dir, "config.yaml"), src.File())

	c, err := src.Config()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", c.Transport.Addr)
	assert.Equal(t, 5*time.Second, c.Transport.ReconnectInterval)
	assert.True(t, c.Transport.NotifyDisplaced)
	assert.Equal(t, 2*time.Second, c.Poll.Interval)
	assert.Equal(t, []string{"chrome", "code"}, c.Windows.Exclude)
	assert.Zero(t, c.Access.Cooldown)
	assert.Equal(t, "https://www.google.com/search?q=%s", c.Search.URL)
	assert.Equal(t, []string{"chrome://newtab/"}, c.Tabs.HidePrefixes)
	assert.Equal(t, 10*time.Second, c.OS.Timeout)
	assert.NotEmpty(t, c.Icons.Dir)
}

func TestOpen_FileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport:
  addr: 127.0.0.1:6000
poll:
  interval: 500ms
windows:
  exclude: [chrome, slack]
log:
  level: debug
`), 0o644))
	t.Setenv("FLOWTABS_POLL_INTERVAL", "3s")
	t.Setenv("FLOWTABS_ACCESS_COOLDOWN", "30s")

	src, err := Open("")
	require.NoError(t, err)
	assert.True(t, src.FileUsed())
	c, err := src.Config()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", c.Transport.Addr)
	assert.Equal(t, 3*time.Second, c.Poll.Interval)
	assert.Equal(t, 30*time.Second, c.Access.Cooldown)
	assert.Equal(t, []string{"chrome", "slack"}, c.Windows.Exclude)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestOpen_ExplicitPathEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser:\n  process: chromium\n"), 0o644))
	t.Setenv("FLOWTABS_CONFIG", path)

	src, err := Open("")
	require.NoError(t, err)
	c, err := src.Config()
	require.NoError(t, err)
	assert.Equal(t, "chromium", c.Browser.Process)
}

func TestOpen_MalformedFileFails(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("transport: [\n"), 0o644))
	_, err := Open("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	c.Poll.Interval = 0
	c.Log.Format = "xml"
	c.OS.Backend = "beos"
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "poll.interval")
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "os.backend")
}

func TestWriteFile_RoundTripsAndRefusesOverwrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.yaml")
	want := Default()
	want.Poll.Interval = 750 * time.Millisecond
	want.Windows.Exclude = []string{"chrome", "code", "slack"}

	require.NoError(t, WriteFile(path, want, false))
	assert.ErrorIs(t, WriteFile(path, want, false), ErrExists)
	require.NoError(t, WriteFile(path, want, true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	assert.Equal(t, "750ms", doc["poll"]["interval"])

	src, err := Open(path)
	require.NoError(t, err)
	got, err := src.Config()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, WriteFile(path, Default(), false))

	src, err := Open("")
	require.NoError(t, err)
	got := make(chan Config, 4)
	require.True(t, src.Watch(func(c Config, err error) {
		if err == nil {
			got <- c
		}
	}))

	next := Default()
	next.Windows.Exclude = []string{"firefox"}
	require.NoError(t, os.WriteFile(path, mustYAML(t, next), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			if len(c.Windows.Exclude) == 1 && c.Windows.Exclude[0] == "firefox" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestWatch_NoFileNoWatch(t *testing.T) {
	isolate(t)
	src, err := Open("")
	require.NoError(t, err)
	assert.False(t, src.Watch(func(Config, error) {}))
}

func mustYAML(t *testing.T, c Config) []byte {
	t.Helper()
	b, err := yaml.Marshal(c.Map())
	require.NoError(t, err)
	return b
}
