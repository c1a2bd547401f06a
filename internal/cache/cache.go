// Package cache holds the query results the analyst has materialized, keyed
// by query name and time interval.
//
// Values are never mutated in place. Update hands the current value to a
// function that returns a replacement, and only stores the replacement when
// the function reports a change, so a reader holding an old value keeps a
// consistent view. Updates are serialized, which is what orders concurrent
// subscription merges.
//
// The cache can be snapshotted to a JSON file and restored on start, using an
// atomic temp-file-and-rename write. Values stored with Set or Update live
// until replaced; the configured expiration only bounds how long a value
// restored from a snapshot may stand in for a fresh query result.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rewired-gh/seismerge/internal/models"
)

const snapshotVersion = "1.0"

// Key identifies a cached query result.
type Key struct {
	Query    string
	Interval models.TimeInterval
}

func (k Key) String() string {
	return k.Query + "@" + k.Interval.String()
}

// Cache is a thread-safe query cache with file-based persistence
type Cache struct {
	items      *gocache.Cache
	mu         sync.Mutex
	expiration time.Duration

	filePath        string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// PersistenceFile represents the file structure for JSON persistence
type PersistenceFile struct {
	Version string                    `json:"version"`
	SavedAt time.Time                 `json:"saved_at"`
	Entries map[string]PersistedEntry `json:"entries"`
}

// PersistedEntry is one cached value. Expiration is in Unix nanoseconds, 0 for never.
type PersistedEntry struct {
	Data       json.RawMessage `json:"data"`
	Expiration int64           `json:"expiration"`
}

// New creates a cache whose restored entries expire expiration after Load
// (0 for never). If filePath is empty, uses OS-appropriate tmp directory
func New(expiration time.Duration, filePath string, filePermissions, dirPermissions os.FileMode) *Cache {
	if filePath == "" {
		filePath = filepath.Join(os.TempDir(), "seismerge", "cache.json")
	}
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}
	return &Cache{
		// no cleanup interval: expired items are dropped on access and on Save
		items:           gocache.New(gocache.NoExpiration, 0),
		expiration:      expiration,
		filePath:        filePath,
		filePermissions: filePermissions,
		dirPermissions:  dirPermissions,
	}
}

// Get returns the value stored under key.
func Get[T any](c *Cache, key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lookup[T](c, key.String())
}

// Update replaces the value under key with the one fn returns. fn receives
// the current value (the zero value and false when absent) and reports
// whether it produced a change. Update returns the stored value and whether
// it changed.
func Update[T any](c *Cache, key Key, fn func(prev T, found bool) (T, bool)) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	prev, found := lookup[T](c, k)
	next, changed := fn(prev, found)
	if !changed {
		return prev, false
	}
	c.items.Set(k, next, gocache.NoExpiration)
	return next, true
}

// Set stores value under key, replacing any previous value.
func Set[T any](c *Cache, key Key, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(key.String(), value, gocache.NoExpiration)
}

// lookup returns the typed value under k. Values restored from a snapshot are
// still raw JSON and are decoded on first access. Must hold c.mu.
func lookup[T any](c *Cache, k string) (T, bool) {
	var zero T
	obj, expiration, ok := c.items.GetWithExpiration(k)
	if !ok {
		return zero, false
	}
	switch v := obj.(type) {
	case T:
		return v, true
	case json.RawMessage:
		var decoded T
		if err := json.Unmarshal(v, &decoded); err != nil {
			return zero, false
		}
		c.items.Set(k, decoded, remaining(expiration))
		return decoded, true
	}
	return zero, false
}

func remaining(expiration time.Time) time.Duration {
	if expiration.IsZero() {
		return gocache.NoExpiration
	}
	d := time.Until(expiration)
	if d <= 0 {
		// already due; keep it for the shortest representable time
		return time.Nanosecond
	}
	return d
}

// Len returns the number of unexpired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items.Items())
}

// Save persists cache state to file
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Create data directory if needed
	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, c.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	entries := make(map[string]PersistedEntry)
	for k, item := range c.items.Items() {
		raw, err := json.Marshal(item.Object)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", k, err)
		}
		entries[k] = PersistedEntry{Data: raw, Expiration: item.Expiration}
	}

	data := PersistenceFile{
		Version: snapshotVersion,
		SavedAt: time.Now(),
		Entries: entries,
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := c.filePath + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, c.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tempPath, c.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Load restores cache state from file. Expired entries are skipped and a
// missing file is not an error.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Clean up any stale temp files from previous crashes
	tempPath := c.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	if _, err := os.Stat(c.filePath); os.IsNotExist(err) {
		return nil
	}

	jsonData, err := os.ReadFile(c.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data PersistenceFile
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if data.Version != snapshotVersion {
		return fmt.Errorf("unsupported cache snapshot version %q", data.Version)
	}

	now := time.Now().UnixNano()
	for k, entry := range data.Entries {
		if entry.Expiration > 0 && entry.Expiration <= now {
			continue
		}
		d := c.expiration
		if entry.Expiration > 0 {
			left := time.Duration(entry.Expiration - now)
			if d == gocache.NoExpiration || left < d {
				d = left
			}
		}
		c.items.Set(k, entry.Data, d)
	}
	return nil
}
