package cache

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey(t *testing.T) {
	a := CacheKey("https://www.wikidata.org/w/rest.php/wikibase/v1/entities/items/Q1")
	b := CacheKey("https://www.wikidata.org/w/rest.php/wikibase/v1/entities/items/Q2")

	assert.True(t, strings.HasPrefix(a, "popfix:v1:"))
	assert.Len(t, a, len("popfix:v1:")+64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, CacheKey("https://www.wikidata.org/w/rest.php/wikibase/v1/entities/items/Q1"))
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)

	require.NoError(t, c.Set("k", []byte("v"), 0))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete("k"))
	_, ok = c.Get("k")
	assert.False(t, ok)

	require.NoError(t, c.Set("a", []byte("1"), 0))
	require.NoError(t, c.Clear())
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestDiskCache_RoundTrip(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)
	key := CacheKey("u")

	require.NoError(t, c.Set(key, []byte(`{"id":"Q1"}`), 0))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, `{"id":"Q1"}`, string(got))

	require.NoError(t, c.Delete(key))
	require.NoError(t, c.Delete(key), "deleting a missing key is not an error")
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestDiskCache_Expiry(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)
	now := time.Date(2025, 8, 29, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	key := CacheKey("u")

	require.NoError(t, c.Set(key, []byte("v"), time.Minute))
	now = now.Add(2 * time.Minute)

	_, ok := c.Get(key)
	assert.False(t, ok)
	_, err := os.Stat(c.path(key))
	assert.True(t, os.IsNotExist(err), "expired entry should be removed")
}

func TestDiskCache_CorruptEntry(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)
	key := CacheKey("u")

	require.NoError(t, c.Set(key, []byte("v"), 0))
	require.NoError(t, os.WriteFile(c.path(key), []byte("not json"), 0o644))

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestLayeredCache_Stats(t *testing.T) {
	dir := t.TempDir()
	key := CacheKey("u")

	first := NewLayeredCache(time.Minute, dir, time.Hour)
	_, ok := first.Get(key)
	assert.False(t, ok)
	require.NoError(t, first.Set(key, []byte("v"), 0))
	_, ok = first.Get(key)
	assert.True(t, ok)
	assert.Equal(t, Stats{MemoryHits: 1, Misses: 1}, first.Stats())

	// A fresh process only has the disk layer populated
	second := NewLayeredCache(time.Minute, dir, time.Hour)
	_, ok = second.Get(key)
	assert.True(t, ok)
	_, ok = second.Get(key)
	assert.True(t, ok)
	assert.Equal(t, Stats{MemoryHits: 1, DiskHits: 1}, second.Stats())

	require.NoError(t, second.Clear())
	_, ok = NewLayeredCache(time.Minute, dir, time.Hour).Get(key)
	assert.False(t, ok)
}
