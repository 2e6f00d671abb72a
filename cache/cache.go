// Package cache stores the product links found on listing pages, one file per page URL.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const fileExt = ".txt"

// LinkCache maps listing-page URLs to the product links extracted from them.
//
// Entries are written as whole files through a temp file and rename, so two
// workers storing the same URL at once leave one complete copy behind. No lock
// is taken: both writers hold the same link set for a given page.
type LinkCache struct {
	dir    string
	memory *lru.Cache[string, []string]
}

// New opens (and creates) a cache rooted at dir. memorySize bounds the
// in-process layer in front of the directory; zero disables it.
func New(dir string, memorySize int) (*LinkCache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %q: %w", dir, err)
	}

	c := &LinkCache{dir: dir}
	if memorySize > 0 {
		memory, err := lru.New[string, []string](memorySize)
		if err != nil {
			return nil, fmt.Errorf("create memory cache: %w", err)
		}
		c.memory = memory
	}
	return c, nil
}

// Key returns the file stem used for a page URL. The query string is part of
// the key so every page of a category gets its own entry.
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// Dir returns the cache directory.
func (c *LinkCache) Dir() string {
	return c.dir
}

// Path returns the file backing the entry for rawURL.
func (c *LinkCache) Path(rawURL string) string {
	return filepath.Join(c.dir, Key(rawURL)+fileExt)
}

// Get returns the links stored for rawURL. A missing entry reports ok=false.
func (c *LinkCache) Get(rawURL string) ([]string, bool) {
	key := Key(rawURL)
	if c.memory != nil {
		if links, ok := c.memory.Get(key); ok {
			return cloneLinks(links), true
		}
	}

	data, err := os.ReadFile(filepath.Join(c.dir, key+fileExt))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("link cache read failed", slog.String("url", rawURL), slog.Any("error", err))
		}
		return nil, false
	}

	links := parseLinks(string(data))
	if c.memory != nil {
		c.memory.Add(key, links)
	}
	return cloneLinks(links), true
}

// Put stores links for rawURL, replacing any previous entry.
func (c *LinkCache) Put(rawURL string, links []string) error {
	key := Key(rawURL)
	target := filepath.Join(c.dir, key+fileExt)

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cache entry for %s: %w", rawURL, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(strings.Join(links, "\n")); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache entry for %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache entry for %s: %w", rawURL, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit cache entry for %s: %w", rawURL, err)
	}

	if c.memory != nil {
		c.memory.Add(key, cloneLinks(links))
	}
	return nil
}

// Len reports the number of entries on disk.
func (c *LinkCache) Len() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == fileExt {
			count++
		}
	}
	return count, nil
}

// Clear removes every entry and returns how many were deleted.
func (c *LinkCache) Clear() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExt {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove cache entry %s: %w", entry.Name(), err)
		}
		removed++
	}
	if c.memory != nil {
		c.memory.Purge()
	}
	return removed, nil
}

func parseLinks(data string) []string {
	lines := strings.Split(data, "\n")
	links := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		links = append(links, line)
	}
	return links
}

func cloneLinks(links []string) []string {
	out := make([]string, len(links))
	copy(out, links)
	return out
}
