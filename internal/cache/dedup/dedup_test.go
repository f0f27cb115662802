package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestComputeHash(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "cache.json"), 10)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	content := "hello harvester"
	path := writeFile(t, dir, "a.bin", content)

	want := sha256.Sum256([]byte(content))
	got := c.ComputeHash(context.Background(), path)
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("ComputeHash = %q, want %q", got, hex.EncodeToString(want[:]))
	}
}

func TestComputeHash_MissingFile(t *testing.T) {
	dir := t.TempDir()
	c, _ := Load(filepath.Join(dir, "cache.json"), 10)

	if got := c.ComputeHash(context.Background(), filepath.Join(dir, "nope")); got != "" {
		t.Errorf("ComputeHash on missing file = %q, want empty", got)
	}
}

func TestComputeHash_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	c, _ := Load(filepath.Join(dir, "cache.json"), 10)
	path := writeFile(t, dir, "a.bin", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := c.ComputeHash(ctx, path); got != "" {
		t.Errorf("ComputeHash with cancelled context = %q, want empty", got)
	}
}

func TestCheckCache_HitAndMiss(t *testing.T) {
	dir := t.TempDir()
	c, _ := Load(filepath.Join(dir, "cache.json"), 10)
	path := writeFile(t, dir, "a.bin", "content")

	if got := c.CheckCache("deadbeef"); got != "" {
		t.Errorf("CheckCache on empty cache = %q, want empty", got)
	}

	if err := c.AddToCache("deadbeef", path); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}
	if got := c.CheckCache("deadbeef"); got != path {
		t.Errorf("CheckCache = %q, want %q", got, path)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss", st)
	}
}

func TestCheckCache_SelfHealsMissingTarget(t *testing.T) {
	dir := t.TempDir()
	c, _ := Load(filepath.Join(dir, "cache.json"), 10)
	path := writeFile(t, dir, "a.bin", "content")

	if err := c.AddToCache("deadbeef", path); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}

	if got := c.CheckCache("deadbeef"); got != "" {
		t.Errorf("CheckCache after target removal = %q, want empty", got)
	}
	// The record is purged, not just skipped.
	if st := c.Stats(); st.CacheSize != 0 {
		t.Errorf("cache size after self-heal = %d, want 0", st.CacheSize)
	}
}

func TestCheckCache_SelfHealsEmptyTarget(t *testing.T) {
	dir := t.TempDir()
	c, _ := Load(filepath.Join(dir, "cache.json"), 10)
	path := writeFile(t, dir, "a.bin", "")

	if err := c.AddToCache("deadbeef", path); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}
	if got := c.CheckCache("deadbeef"); got != "" {
		t.Errorf("CheckCache on zero-length target = %q, want empty", got)
	}
}

func TestAddToCache_FIFOEviction(t *testing.T) {
	dir := t.TempDir()
	c, _ := Load(filepath.Join(dir, "cache.json"), 3)

	paths := make([]string, 5)
	for i := range paths {
		paths[i] = writeFile(t, dir, fmt.Sprintf("f%d.bin", i), fmt.Sprintf("content %d", i))
	}

	for i := 0; i < 3; i++ {
		if err := c.AddToCache(fmt.Sprintf("hash%d", i), paths[i]); err != nil {
			t.Fatalf("AddToCache failed: %v", err)
		}
	}

	// Touch hash0 so an LRU policy would protect it; FIFO must not.
	c.CheckCache("hash0")

	if err := c.AddToCache("hash3", paths[3]); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}

	if got := c.CheckCache("hash0"); got != "" {
		t.Error("hash0 should have been evicted first despite the recent access")
	}
	if got := c.CheckCache("hash1"); got == "" {
		t.Error("hash1 should still be cached")
	}
	if st := c.Stats(); st.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", st.Evictions)
	}
}

func TestAddToCache_SameHashUpdatesPath(t *testing.T) {
	dir := t.TempDir()
	c, _ := Load(filepath.Join(dir, "cache.json"), 10)
	a := writeFile(t, dir, "a.bin", "content")
	b := writeFile(t, dir, "b.bin", "content")

	if err := c.AddToCache("deadbeef", a); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}
	if err := c.AddToCache("deadbeef", b); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}

	if got := c.CheckCache("deadbeef"); got != b {
		t.Errorf("CheckCache = %q, want %q", got, b)
	}
	if st := c.Stats(); st.CacheSize != 1 {
		t.Errorf("cache size = %d, want 1 (hash maps to at most one path)", st.CacheSize)
	}
}

func TestLoad_PersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")
	a := writeFile(t, dir, "a.bin", "content a")
	b := writeFile(t, dir, "b.bin", "content b")

	c, _ := Load(cachePath, 10)
	if err := c.AddToCache("hash-a", a); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}
	if err := c.AddToCache("hash-b", b); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}

	// Remove b's artifact: Load must filter it out.
	if err := os.Remove(b); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}

	reloaded, err := Load(cachePath, 10)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := reloaded.CheckCache("hash-a"); got != a {
		t.Errorf("reloaded CheckCache = %q, want %q", got, a)
	}
	if st := reloaded.Stats(); st.CacheSize != 1 {
		t.Errorf("reloaded cache size = %d, want 1", st.CacheSize)
	}
}

func TestLoad_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")
	a := writeFile(t, dir, "a.bin", "content")

	c, _ := Load(cachePath, 10)
	if err := c.AddToCache("hash-a", a); err != nil {
		t.Fatalf("AddToCache failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, ".dedup-*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Errorf("cache file missing after persist: %v", err)
	}
}

func TestLoad_RejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	cachePath := writeFile(t, dir, "cache.json", `{"version": 99, "entries": []}`)

	if _, err := Load(cachePath, 10); err == nil {
		t.Fatal("Load should reject an unknown format version")
	}
}
