package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

func results(urls ...string) []models.WebSearchResult {
	out := make([]models.WebSearchResult, len(urls))
	for i, u := range urls {
		out[i] = models.WebSearchResult{Title: "t", URL: u}
	}
	return out
}

func TestCache_HitAndMiss(t *testing.T) {
	c := New(4, time.Minute)
	defer c.Stop()

	key := Key("google", "golang")
	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, results("https://golang.org/"))
	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Len(t, got, 1)
}

func TestCache_KeySeparatesEngines(t *testing.T) {
	assert.NotEqual(t, Key("google", "golang"), Key("bing", "golang"))
	assert.NotEqual(t, Key("google", "a|b"), Key("google|a", "b"))
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(4, 10*time.Millisecond)
	defer c.Stop()

	key := Key("google", "golang")
	c.Set(key, results("https://golang.org/"))
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get(key)
	assert.False(t, ok, "expired entry must miss")
}

func TestCache_EvictsAtCapacity(t *testing.T) {
	c := New(2, time.Minute)
	defer c.Stop()

	c.Set("a", results("1"))
	c.Set("b", results("2"))
	c.Set("c", results("3"))

	present := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, ok := c.Get(k); ok {
			present++
		}
	}
	assert.Equal(t, 2, present, "capacity is enforced by evicting one entry")
}
