package crawler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-tools-citescrape/driver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// fakeDriver serves canned pages and records every navigation.
type fakeDriver struct {
	mu      sync.Mutex
	pages   map[string]*driver.Result
	errs    map[string]error
	fetched []string
	delay   time.Duration
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pages: make(map[string]*driver.Result),
		errs:  make(map[string]error),
	}
}

func (f *fakeDriver) page(url, title, body string, links ...string) {
	f.pages[url] = &driver.Result{
		FinalURL:   url,
		StatusCode: 200,
		HTML: `<html><head><title>` + title + `</title></head><body><h1>` + title +
			`</h1><p>` + body + `</p></body></html>`,
		Title: title,
		Links: links,
	}
}

func (f *fakeDriver) Prepare(ctx context.Context) error { return nil }
func (f *fakeDriver) Close() error                      { return nil }

func (f *fakeDriver) Navigate(ctx context.Context, url string, timeout time.Duration) (*driver.Result, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, models.NewCrawlError(models.ErrCodeCancelled, "cancelled", ctx.Err())
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()

	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if res, ok := f.pages[url]; ok {
		return res, nil
	}
	return nil, models.NewCrawlError(models.ErrCodeNavigation, "no such page", nil)
}

func (f *fakeDriver) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.fetched {
		if u == url {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T, startURL string) models.CrawlConfig {
	t.Helper()
	return models.CrawlConfig{
		StartURL:             startURL,
		StorageDir:           t.TempDir(),
		MaxDepth:             3,
		MaxPages:             100,
		RateLimitDelay:       time.Millisecond,
		MaxConcurrentPerHost: 2,
		Timeout:              2 * time.Second,
		CircuitBreakerLimit:  5,
	}
}

func waitDone(t *testing.T, sup *Supervisor) {
	t.Helper()
	select {
	case <-sup.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("crawl did not finish")
	}
}

func TestCrawl_SinglePage(t *testing.T) {
	fd := newFakeDriver()
	fd.page("https://example.test/", "Home", "welcome text")

	cfg := testConfig(t, "https://example.test/")
	cfg.MaxDepth = 0
	cfg.MaxPages = 1

	m := NewManager(fd)
	id, dir, err := m.Start(cfg)
	require.NoError(t, err)

	sup, ok := m.Get(id)
	require.True(t, ok)
	waitDone(t, sup)

	assert.Equal(t, models.StatusCompleted, sup.Status())

	p := sup.Progress()
	assert.Equal(t, 1, p.Fetched)
	assert.Equal(t, 1, p.Succeeded)
	assert.Zero(t, p.Failed)

	// Exactly one HTML+MD sister pair on disk (ignoring the index dir).
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var html, md int
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".html":
			html++
		case ".md":
			md++
		}
	}
	assert.Equal(t, 1, html)
	assert.Equal(t, 1, md)
}

func TestCrawl_DepthZeroIgnoresLinks(t *testing.T) {
	fd := newFakeDriver()
	fd.page("https://example.test/", "Home", "x", "https://example.test/deep")
	fd.page("https://example.test/deep", "Deep", "y")

	cfg := testConfig(t, "https://example.test/")
	cfg.MaxDepth = 0

	m := NewManager(fd)
	id, _, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	assert.Equal(t, 1, sup.Progress().Fetched)
	assert.Zero(t, fd.fetchCount("https://example.test/deep"))
}

func TestCrawl_ScopeAndPageBudget(t *testing.T) {
	fd := newFakeDriver()
	fd.page("https://example.test/", "Home", "x",
		"https://example.test/a",
		"https://example.test/b",
		"https://elsewhere.test/external")
	fd.page("https://example.test/a", "A", "a")
	fd.page("https://example.test/b", "B", "b")
	fd.page("https://elsewhere.test/external", "Ext", "e")

	cfg := testConfig(t, "https://example.test/")
	cfg.MaxDepth = 1
	cfg.MaxPages = 2
	cfg.FollowExternalLinks = false

	m := NewManager(fd)
	id, _, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	p := sup.Progress()
	assert.LessOrEqual(t, p.Fetched, 2)
	assert.Zero(t, fd.fetchCount("https://elsewhere.test/external"),
		"external host must never be fetched")
}

func TestCrawl_FetchesEachURLOnce(t *testing.T) {
	// Pages link to each other in a cycle; dedup must break it.
	fd := newFakeDriver()
	fd.page("https://example.test/", "Home", "unique home words",
		"https://example.test/a")
	fd.page("https://example.test/a", "A", "different page entirely",
		"https://example.test/", "https://example.test/a#frag")

	cfg := testConfig(t, "https://example.test/")

	m := NewManager(fd)
	id, _, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	assert.Equal(t, 1, fd.fetchCount("https://example.test/"))
	assert.Equal(t, 1, fd.fetchCount("https://example.test/a"))
	assert.Equal(t, models.StatusCompleted, sup.Status())
}

func TestCrawl_FailedPageContinuesCrawl(t *testing.T) {
	fd := newFakeDriver()
	fd.page("https://example.test/", "Home", "fine",
		"https://example.test/broken", "https://example.test/ok")
	fd.errs["https://example.test/broken"] = models.NewCrawlError(models.ErrCodeNavigation, "boom", nil)
	fd.page("https://example.test/ok", "OK", "also fine")

	cfg := testConfig(t, "https://example.test/")

	m := NewManager(fd)
	id, _, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	p := sup.Progress()
	assert.Equal(t, models.StatusCompleted, sup.Status())
	assert.Equal(t, 2, p.Succeeded)
	assert.Equal(t, 1, p.Failed)
	require.NotEmpty(t, p.RecentErrors)
	assert.Equal(t, models.ErrCodeNavigation, p.RecentErrors[len(p.RecentErrors)-1].Kind)
	assert.Equal(t, "example.test", p.RecentErrors[len(p.RecentErrors)-1].Host)

	// Navigation failures retry before giving up.
	assert.Equal(t, 1+navRetries, fd.fetchCount("https://example.test/broken"))
}

func TestCrawl_RepeatedProtocolErrorFailsCrawl(t *testing.T) {
	fd := newFakeDriver()
	fd.errs["https://example.test/"] = models.NewCrawlError(models.ErrCodeDriverProtocol, "cdp broke", nil)

	cfg := testConfig(t, "https://example.test/")

	m := NewManager(fd)
	id, _, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	assert.Equal(t, models.StatusFailed, sup.Status())
	// Single retry: two attempts total.
	assert.Equal(t, 2, fd.fetchCount("https://example.test/"))
}

func TestCrawl_CancelAbandonsWork(t *testing.T) {
	fd := newFakeDriver()
	fd.delay = 200 * time.Millisecond
	fd.page("https://example.test/", "Home", "x", "https://example.test/a")
	fd.page("https://example.test/a", "A", "y")

	cfg := testConfig(t, "https://example.test/")

	m := NewManager(fd)
	id, dir, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)

	time.Sleep(50 * time.Millisecond)
	sup.Cancel()
	waitDone(t, sup)

	assert.Equal(t, models.StatusCancelled, sup.Status())

	// Cancelled fetches must not leave artifacts behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".md"),
			"no markdown artifact expected after early cancel, found %s", e.Name())
	}
}

func TestCrawl_ResultsPaging(t *testing.T) {
	fd := newFakeDriver()
	fd.page("https://example.test/", "Home", "hub page words",
		"https://example.test/a", "https://example.test/b", "https://example.test/c")
	fd.page("https://example.test/a", "A", "first leaf entirely about storks")
	fd.page("https://example.test/b", "B", "second leaf entirely about herons")
	fd.page("https://example.test/c", "C", "third leaf entirely about cranes")

	cfg := testConfig(t, "https://example.test/")

	m := NewManager(fd)
	id, _, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	all, total := sup.Results(0, 0)
	assert.Equal(t, 4, total)
	assert.Len(t, all, 4)

	page, total := sup.Results(1, 2)
	assert.Equal(t, 4, total)
	assert.Len(t, page, 2)

	tail, _ := sup.Results(3, 10)
	assert.Len(t, tail, 1)

	beyond, _ := sup.Results(10, 5)
	assert.Empty(t, beyond)
}

func TestCrawl_SearchOverIndexedPages(t *testing.T) {
	fd := newFakeDriver()
	fd.page("https://example.test/", "Pelicans", "all about pelican migration")

	cfg := testConfig(t, "https://example.test/")
	cfg.EnableSearch = true

	m := NewManager(fd)
	id, _, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	hits, total, err := sup.Search("pelican", 10, "plaintext")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://example.test/", hits[0].URL)
}

func TestCrawl_SearchDisabled(t *testing.T) {
	fd := newFakeDriver()
	fd.page("https://example.test/", "Home", "x")

	cfg := testConfig(t, "https://example.test/")

	m := NewManager(fd)
	id, _, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	_, _, err = sup.Search("x", 10, "plaintext")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeInvalidConfig, models.CodeOf(err))
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	m := NewManager(newFakeDriver())

	_, _, err := m.Start(models.CrawlConfig{StartURL: "not a url", StorageDir: "x",
		MaxPages: 1, MaxConcurrentPerHost: 1, CircuitBreakerLimit: 1})
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeInvalidConfig, models.CodeOf(err))
}

func TestManager_RemoveReclaimsWorkspace(t *testing.T) {
	fd := newFakeDriver()
	fd.page("https://example.test/", "Home", "x")

	cfg := testConfig(t, "https://example.test/")
	m := NewManager(fd)
	id, dir, err := m.Start(cfg)
	require.NoError(t, err)
	sup, _ := m.Get(id)
	waitDone(t, sup)

	require.NoError(t, m.Remove(id))
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
	_, ok := m.Get(id)
	assert.False(t, ok)
}
