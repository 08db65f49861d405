package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New(0)
	c.Set("key", "value")

	value, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", value)
}

func TestCache_GetMissingKey(t *testing.T) {
	c := New(0)

	value, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestCache_NoTTLNeverExpires(t *testing.T) {
	c := New(0)
	c.Set("key", "value")

	time.Sleep(20 * time.Millisecond)

	value, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", value)
	assert.True(t, c.Contains("key"))
}

func TestCache_TTLWindow(t *testing.T) {
	c := New(50 * time.Millisecond)
	c.Set("key", "value")

	// Inside the window the value is retrievable.
	value, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", value)

	// Past the window the entry is gone.
	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("key")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ContainsDeletesExpired(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Set("key", "value")
	require.True(t, c.Contains("key"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Contains("key"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_SetResetsExpiryClock(t *testing.T) {
	c := New(50 * time.Millisecond)
	c.Set("key", "old")

	time.Sleep(30 * time.Millisecond)
	c.Set("key", "new")

	// The first window has passed but the overwrite restarted the clock.
	time.Sleep(30 * time.Millisecond)
	value, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "new", value)
}

func TestCache_Overwrite(t *testing.T) {
	c := New(0)
	c.Set("key", "first")
	c.Set("key", "second")

	value, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "second", value)
}

func TestCache_Delete(t *testing.T) {
	c := New(0)
	c.Set("key", "value")

	c.Delete("key")
	_, ok := c.Get("key")
	assert.False(t, ok)

	// Deleting again is a no-op.
	c.Delete("key")
}

func TestCache_Clear(t *testing.T) {
	c := New(0)
	c.Set("one", 1)
	c.Set("two", 2)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains("one"))
	assert.False(t, c.Contains("two"))
}

func TestCache_TTLAccessor(t *testing.T) {
	assert.Equal(t, time.Duration(0), New(0).TTL())
	assert.Equal(t, time.Minute, New(time.Minute).TTL())
}

func TestCache_StoresArbitraryValues(t *testing.T) {
	c := New(0)
	payload := map[string]interface{}{"SECRET": "value", "IS_SECRET": true, "DECIMAL": "1.3"}
	c.Set("path/to", payload)

	value, ok := c.Get("path/to")
	require.True(t, ok)
	assert.Equal(t, payload, value)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		key := fmt.Sprintf("key-%d", i%10)
		go func() {
			defer wg.Done()
			c.Set(key, i)
		}()
		go func() {
			defer wg.Done()
			_, _ = c.Get(key)
		}()
		go func() {
			defer wg.Done()
			_ = c.Contains(key)
		}()
	}
	wg.Wait()
}

func TestCache_ConcurrentExpiryDeletion(t *testing.T) {
	c := New(time.Millisecond)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}
	time.Sleep(5 * time.Millisecond)

	// Many readers racing to delete the same expired entries must not panic
	// and must all observe a miss.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		key := fmt.Sprintf("key-%d", i%10)
		go func() {
			defer wg.Done()
			_, ok := c.Get(key)
			assert.False(t, ok)
		}()
	}
	wg.Wait()
}
