package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	c := New[string](time.Hour)
	c.now = func() time.Time { return now }

	_, ok := c.Get("key")
	assert.False(t, ok)

	c.Set("key", "abc")
	v, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	now = now.Add(59 * time.Minute)
	_, ok = c.Get("key")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	v, ok = c.Get("key")
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestCache_Delete(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("n", 7)
	c.Delete("n")

	_, ok := c.Get("n")
	assert.False(t, ok)
}
