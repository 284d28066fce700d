/*
File: cache_test.go
Version: 1.0.0
Description: Tests for the LRU+TTL prediction cache and its snapshots.
*/

package main

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult(url string) *PredictionResult {
	p := 0.9
	return &PredictionResult{URL: url, Prediction: 1, Probability: &p, PhishingLabel: labelPhishing, Threshold: 0.5}
}

func TestCachePutGet(t *testing.T) {
	c := NewPredictionCache(10, time.Minute)

	_, ok := c.Get("http://a.com")
	assert.False(t, ok)

	c.Put("http://a.com", testResult("http://a.com"))
	got, ok := c.Get("http://a.com")
	require.True(t, ok)
	assert.Equal(t, "http://a.com", got.URL)
	assert.Equal(t, 1, c.Len())
}

func TestCacheRawKeyIsExact(t *testing.T) {
	c := NewPredictionCache(10, time.Minute)
	c.Put("example.com", testResult("example.com"))

	// Different spellings of the same page are distinct keys.
	_, ok := c.Get("http://example.com")
	assert.False(t, ok)
	_, ok = c.Get("example.com")
	assert.True(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewPredictionCache(10, 10*time.Millisecond)
	c.Put("k", testResult("k"))

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok)
	// Stale entry was evicted on access, not just hidden.
	assert.Equal(t, 0, c.Len())
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewPredictionCache(3, time.Minute)
	for i := 0; i < 3; i++ {
		k := fmt.Sprintf("k%d", i)
		c.Put(k, testResult(k))
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Put("k3", testResult("k3"))
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k0")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestCacheOverwriteRefreshes(t *testing.T) {
	c := NewPredictionCache(2, time.Minute)
	c.Put("a", testResult("a"))
	c.Put("b", testResult("b"))
	c.Put("a", testResult("a"))

	// "b" is now LRU and gets evicted first.
	c.Put("c", testResult("c"))
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCacheFlush(t *testing.T) {
	c := NewPredictionCache(10, time.Minute)
	c.Put("a", testResult("a"))
	c.Put("b", testResult("b"))
	c.Flush()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCacheSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c := NewPredictionCache(10, time.Minute)
	c.Put("a", testResult("a"))
	c.Put("b", testResult("b"))
	require.NoError(t, c.SaveSnapshot(path))

	restored := NewPredictionCache(10, time.Minute)
	require.NoError(t, restored.LoadSnapshot(path))
	assert.Equal(t, 2, restored.Len())

	got, ok := restored.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.Prediction)
	assert.Equal(t, labelPhishing, got.PhishingLabel)
	require.NotNil(t, got.Probability)
	assert.Equal(t, 0.9, *got.Probability)
}

func TestCacheSnapshotKeepsFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	result := testResult("http://login.example.com")
	result.Features = ExtractFeatures("http://login.example.com")

	c := NewPredictionCache(10, time.Minute)
	c.Put("http://login.example.com", result)
	require.NoError(t, c.SaveSnapshot(path))

	restored := NewPredictionCache(10, time.Minute)
	require.NoError(t, restored.LoadSnapshot(path))

	got, ok := restored.Get("http://login.example.com")
	require.True(t, ok)
	require.NotNil(t, got.Features)
	require.Equal(t, len(featureOrder), got.Features.Len())
	assert.Equal(t, featureOrder, got.Features.Names())

	want, _ := result.Features.Get("entropy")
	have, _ := got.Features.Get("entropy")
	assert.Equal(t, want, have)
}

func TestCacheSnapshotMissingFile(t *testing.T) {
	c := NewPredictionCache(10, time.Minute)
	assert.NoError(t, c.LoadSnapshot(filepath.Join(t.TempDir(), "absent.json")))
	assert.Equal(t, 0, c.Len())
}
