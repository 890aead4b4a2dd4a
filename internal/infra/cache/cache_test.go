package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", val)
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	assert.False(t, ok)
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	assert.False(t, ok, "expected cache entry to be expired")
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func TestCache_GetOrLoad_LoadsOnceForConcurrentCallers(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	var loads atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := c.GetOrLoad("cat:user-1", func() (string, error) {
				loads.Add(1)
				<-release
				return "cat-1", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, r := range results {
		assert.Equal(t, "cat-1", r)
	}

	v, hit, err := c.GetOrLoad("cat:user-1", func() (string, error) {
		t.Fatal("loader must not run on a hit")
		return "", nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cat-1", v)
}

func TestCache_GetOrLoad_ErrorsAreNotCached(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, _, err := c.GetOrLoad("k", func() (string, error) { return "", errors.New("store down") })
	require.Error(t, err)

	v, hit, err := c.GetOrLoad("k", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", v)
}
