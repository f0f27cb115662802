// Package dedup deduplicates downloaded artifacts by content hash.
//
// The platform offers no pre-download hash primitive, so hashing
// happens after local materialization; identical content fetched under
// different identifiers still collapses to one stored artifact. The
// hash-to-path map persists across runs via an atomic
// write-temp-then-rename, so a crash never leaves a half-written
// cache file.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// hashChunkSize is the read size used when streaming files
	// through the digest.
	hashChunkSize = 8 * 1024

	// formatVersion identifies the on-disk cache format.
	formatVersion = 1
)

type record struct {
	Hash    string    `json:"hash"`
	Path    string    `json:"path"`
	AddedAt time.Time `json:"added_at"`
}

type cacheFile struct {
	Version int      `json:"version"`
	Entries []record `json:"entries"`
}

// Stats is a snapshot of dedup counters.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	CacheSize int     `json:"cache_size"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache maps content hashes to previously materialized local paths.
// Eviction is FIFO on insertion order, deliberately simpler than LRU:
// access recency is not tracked, only insertion recency. All mutation
// is serialized behind one mutex so the write-rename sequence stays
// race-free when shards share the cache.
type Cache struct {
	mu         sync.Mutex
	path       string
	maxEntries int

	// entries is kept in insertion order; index maps hash to its
	// position for O(1) lookup.
	entries []record
	index   map[string]int

	hits      uint64
	misses    uint64
	evictions uint64
}

// Load opens the cache file at path, creating an empty cache if the
// file does not exist. Records whose target path no longer exists are
// dropped during load.
func Load(path string, maxEntries int) (*Cache, error) {
	if maxEntries < 1 {
		maxEntries = 1
	}

	c := &Cache{
		path:       path,
		maxEntries: maxEntries,
		index:      make(map[string]int),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dedup cache: %w", err)
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse dedup cache: %w", err)
	}
	if file.Version != formatVersion {
		return nil, fmt.Errorf("unsupported dedup cache version %d", file.Version)
	}

	for _, rec := range file.Entries {
		if _, statErr := os.Stat(rec.Path); statErr != nil {
			continue
		}
		if _, dup := c.index[rec.Hash]; dup {
			continue
		}
		c.index[rec.Hash] = len(c.entries)
		c.entries = append(c.entries, rec)
	}

	return c, nil
}

// ComputeHash streams the file at path through sha256 in fixed-size
// chunks and returns the hex digest. Any I/O error yields "" rather
// than an error: an unhashable file simply cannot be deduplicated.
func (c *Cache) ComputeHash(ctx context.Context, path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return ""
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return ""
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// CheckCache returns the stored path for hash, or "" if unknown. A
// record whose target is missing or zero-length is purged (and the
// purge persisted) before reporting a miss, so stale records heal
// themselves.
func (c *Cache) CheckCache(hash string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.index[hash]
	if !ok {
		c.misses++
		return ""
	}

	rec := c.entries[pos]
	info, err := os.Stat(rec.Path)
	if err != nil || info.Size() == 0 {
		c.removeAt(pos)
		// Best effort: the record is already gone from memory and a
		// stale on-disk copy is filtered on the next load anyway.
		_ = c.persist()
		c.misses++
		return ""
	}

	c.hits++
	return rec.Path
}

// AddToCache records hash as materialized at path, evicting the
// oldest-inserted record first when at capacity, and persists the
// updated map.
func (c *Cache) AddToCache(hash, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pos, ok := c.index[hash]; ok {
		// A hash maps to at most one path.
		c.entries[pos].Path = path
		c.entries[pos].AddedAt = time.Now()
		return c.persist()
	}

	if len(c.entries) >= c.maxEntries {
		c.removeAt(0)
		c.evictions++
	}

	c.index[hash] = len(c.entries)
	c.entries = append(c.entries, record{Hash: hash, Path: path, AddedAt: time.Now()})

	return c.persist()
}

// Stats returns a snapshot of the dedup counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100.0
	}

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		CacheSize: len(c.entries),
		HitRate:   rate,
	}
}

// removeAt deletes the record at pos and reindexes the tail. Caller
// must hold the mutex.
func (c *Cache) removeAt(pos int) {
	delete(c.index, c.entries[pos].Hash)
	c.entries = append(c.entries[:pos], c.entries[pos+1:]...)
	for i := pos; i < len(c.entries); i++ {
		c.index[c.entries[i].Hash] = i
	}
}

// persist writes the cache file atomically: marshal to a temp file in
// the same directory, then rename over the target. Caller must hold
// the mutex.
func (c *Cache) persist() error {
	data, err := json.MarshalIndent(cacheFile{Version: formatVersion, Entries: c.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dedup cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dedup cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".dedup-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}

	return nil
}
