package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache stores downloaded documents by URL.
type Cache interface {
	// Get retrieves a cached document. Expired entries are only returned
	// when allowExpired is set.
	Get(key string, allowExpired bool) ([]byte, bool)
	// Set stores a document in the cache.
	Set(key string, value []byte) error
}

// MemoryCache is an in-memory cache whose entries never expire.
type MemoryCache struct {
	mu    sync.RWMutex
	cache map[string][]byte
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		cache: make(map[string][]byte),
	}
}

// Get retrieves a cached value.
func (c *MemoryCache) Get(key string, _ bool) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.cache[key]
	return value, ok
}

// Set stores a value in the cache.
func (c *MemoryCache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = value
	return nil
}

// FileCache is a file-system backed cache. Each document is stored under the
// hex SHA-256 of its key and tracked in index.json.
type FileCache struct {
	mu          sync.RWMutex
	root        string
	expireAfter time.Duration
	clock       clockwork.Clock
	index       map[string]cacheEntry
}

type cacheEntry struct {
	ExpEpochSeconds int64  `json:"exp_epoch_seconds"`
	Fname           string `json:"fname"`
}

const indexFile = "index.json"

// NewFileCache creates a file cache rooted at dir. Entries expire
// expireAfter after being stored; zero means they are stale immediately.
// A nil clock uses the real clock.
func NewFileCache(dir string, expireAfter time.Duration, clock clockwork.Clock) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cache := &FileCache{
		root:        dir,
		expireAfter: expireAfter,
		clock:       clock,
		index:       make(map[string]cacheEntry),
	}

	if data, err := os.ReadFile(filepath.Join(dir, indexFile)); err == nil {
		if err := json.Unmarshal(data, &cache.index); err != nil {
			cache.index = make(map[string]cacheEntry)
		}
	}

	return cache, nil
}

// Dir returns the cache root.
func (c *FileCache) Dir() string {
	return c.root
}

// Get retrieves a cached value.
func (c *FileCache) Get(key string, allowExpired bool) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.index[key]
	if !ok {
		return nil, false
	}

	if !allowExpired && c.clock.Now().Unix() >= entry.ExpEpochSeconds {
		return nil, false
	}

	content, err := os.ReadFile(filepath.Join(c.root, entry.Fname))
	if err != nil {
		return nil, false
	}
	return content, true
}

// Set stores a value in the cache.
func (c *FileCache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := sha256.Sum256([]byte(key))
	fname := hex.EncodeToString(hash[:])

	if err := os.WriteFile(filepath.Join(c.root, fname), value, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	c.index[key] = cacheEntry{
		ExpEpochSeconds: c.clock.Now().Add(c.expireAfter).Unix(),
		Fname:           fname,
	}

	indexData, err := json.Marshal(c.index)
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.root, indexFile), indexData, 0644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	return nil
}

// Remove deletes the cache directory and everything below it.
func (c *FileCache) Remove() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = make(map[string]cacheEntry)
	return os.RemoveAll(c.root)
}
