package cync

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDedupCacheContainsAfterAdd(t *testing.T) {
	c := NewDedupCache(DedupCacheConfig{MaxSize: 10, TTL: time.Minute})
	key := "abc123"
	if c.Contains(key) {
		t.Fatal("empty cache should not contain key")
	}
	c.Add(key, uuid.Must(uuid.NewV7()))
	if !c.Contains(key) {
		t.Fatal("cache should contain key after Add")
	}
}

func TestDedupCacheBoundedSize(t *testing.T) {
	c := NewDedupCache(DedupCacheConfig{MaxSize: 3, TTL: time.Minute})
	for i := 0; i < 10; i++ {
		c.Add(fmt.Sprintf("key-%d", i), uuid.Must(uuid.NewV7()))
	}
	if got := c.Len(); got > 3 {
		t.Errorf("got %d entries, want at most 3", got)
	}
}

func TestDedupCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewDedupCache(DedupCacheConfig{MaxSize: 2, TTL: time.Minute})
	c.Add("a", uuid.Must(uuid.NewV7()))
	c.Add("b", uuid.Must(uuid.NewV7()))
	c.Contains("a") // touch a, making b the least recently used
	c.Add("c", uuid.Must(uuid.NewV7()))

	if !c.Contains("a") {
		t.Error("a should survive, it was touched most recently")
	}
	if c.Contains("b") {
		t.Error("b should have been evicted as least recently used")
	}
	if !c.Contains("c") {
		t.Error("c should be present, it was just added")
	}
}

func TestDedupCacheExpiresByTTL(t *testing.T) {
	c := NewDedupCache(DedupCacheConfig{MaxSize: 10, TTL: time.Millisecond})
	c.Add("k", uuid.Must(uuid.NewV7()))
	time.Sleep(5 * time.Millisecond)
	if c.Contains("k") {
		t.Error("entry should have expired")
	}
}

func TestDedupCacheCleanupExpired(t *testing.T) {
	c := NewDedupCache(DedupCacheConfig{MaxSize: 10, TTL: time.Millisecond})
	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("k-%d", i), uuid.Must(uuid.NewV7()))
	}
	time.Sleep(5 * time.Millisecond)
	removed := c.CleanupExpired()
	if removed != 5 {
		t.Errorf("got %d removed, want 5", removed)
	}
	if c.Len() != 0 {
		t.Errorf("got %d remaining, want 0", c.Len())
	}
}
