package osapi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"flowtabs/internal/model"
)

// IconCache hands out per-item PNG paths in one directory. The directory is
// created on first use and removed by Purge.
type IconCache struct {
	dir string

	mu      sync.Mutex
	created bool
}

func NewIconCache(dir string) *IconCache {
	return &IconCache{dir: dir}
}

func (c *IconCache) Dir() string { return c.dir }

// Path returns the destination for key's icon, creating the cache directory
// if needed.
func (c *IconCache) Path(key model.Key) (string, error) {
	if c.dir == "" {
		return "", errors.New("osapi: icon cache directory not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.created {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return "", fmt.Errorf("osapi: create icon cache: %w", err)
		}
		c.created = true
	}
	return filepath.Join(c.dir, string(key.Kind)+"-"+sanitizeFileName(string(key.ID))+".png"), nil
}

// Purge deletes every cached icon.
func (c *IconCache) Purge() error {
	if c.dir == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = false
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("osapi: purge icon cache: %w", err)
	}
	return nil
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
