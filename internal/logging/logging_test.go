package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONToFileAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "flowtabs.log")
	log, sync, err := New(Options{Level: "warn", Format: "json", File: path})
	require.NoError(t, err)

	log.Named("hub").Info("dropped by level")
	log.Named("hub").Warn("peer lost", zap.String("peer", "p1"))
	sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "hub", entry["logger"])
	assert.Equal(t, "peer lost", entry["msg"])
	assert.Equal(t, "p1", entry["peer"])
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)
	_, _, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_ConsoleFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.log")
	log, sync, err := New(Options{Level: "debug", Format: "console", File: path})
	require.NoError(t, err)
	log.Debug("hello", zap.Int("n", 1))
	sync()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "DEBUG")
	assert.Contains(t, string(raw), "hello")
}
