package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"InterviewPrep/internal/session"
)

func TestGenerateCacheKey(t *testing.T) {
	msgs := []session.Message{
		{Role: session.RoleInterviewer, Content: "Question 1"},
		{Role: session.RoleCandidate, Content: "Answer"},
	}

	key := GenerateCacheKey(msgs, "openai", "gpt-4o-mini")
	assert.Len(t, key, 64)
	assert.Equal(t, key, GenerateCacheKey(msgs, "openai", "gpt-4o-mini"))
	assert.NotEqual(t, key, GenerateCacheKey(msgs, "anthropic", "gpt-4o-mini"))
	assert.NotEqual(t, key, GenerateCacheKey(msgs[:1], "openai", "gpt-4o-mini"))

	// role/content boundaries are part of the key
	a := []session.Message{{Role: "ab", Content: "c"}}
	b := []session.Message{{Role: "a", Content: "bc"}}
	assert.NotEqual(t, GenerateCacheKey(a), GenerateCacheKey(b))
}

func TestCache_GetPut(t *testing.T) {
	c := New[string](0)

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Put("k", "v")
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	now := time.Now()
	c := New[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("k", 1)
	now = now.Add(30 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_Prune(t *testing.T) {
	now := time.Now()
	c := New[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("old", 1)
	now = now.Add(45 * time.Second)
	c.Put("new", 2)
	now = now.Add(30 * time.Second)

	assert.Equal(t, 1, c.Prune())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new")
	assert.True(t, ok)

	assert.Equal(t, 0, New[int](0).Prune())
}
