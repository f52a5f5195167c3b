package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-tools-citescrape/config"
	"github.com/cyrup-ai/kodegen-tools-citescrape/crawler"
	"github.com/cyrup-ai/kodegen-tools-citescrape/driver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
	"github.com/cyrup-ai/kodegen-tools-citescrape/websearch"
)

// pageDriver serves one canned page for any URL.
type pageDriver struct{}

func (pageDriver) Prepare(ctx context.Context) error { return nil }
func (pageDriver) Close() error                      { return nil }
func (pageDriver) Navigate(ctx context.Context, url string, timeout time.Duration) (*driver.Result, error) {
	return &driver.Result{
		FinalURL:   url,
		StatusCode: 200,
		HTML:       "<html><head><title>Page</title></head><body><p>content here</p></body></html>",
		Title:      "Page",
	}, nil
}

func testRouter(t *testing.T) (*httptest.Server, *crawler.Manager, config.CrawlConfig) {
	t.Helper()
	cfg := config.Load()
	cfg.Server.Mode = "test"
	cfg.Auth.Enabled = false
	cfg.Crawl.OutputDir = t.TempDir()
	cfg.Crawl.RateLimitDelay = time.Millisecond

	m := crawler.NewManager(pageDriver{})
	r := NewRouter(m, websearch.New(pageDriver{}, nil), cfg, time.Now())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(m.Shutdown)
	return srv, m, cfg.Crawl
}

func TestRouter_Health(t *testing.T) {
	srv, _, _ := testRouter(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_ScrapeLifecycle(t *testing.T) {
	srv, m, _ := testRouter(t)

	body, _ := json.Marshal(map[string]any{
		"url":       "https://example.test/",
		"max_depth": 0,
		"max_pages": 1,
	})
	resp, err := http.Post(srv.URL+"/api/v1/scrape", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started struct {
		CrawlID   string `json:"crawl_id"`
		OutputDir string `json:"output_dir"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, models.StatusRunning, started.Status)
	require.NotEmpty(t, started.CrawlID)

	sup, ok := m.Get(started.CrawlID)
	require.True(t, ok)
	select {
	case <-sup.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("crawl did not finish")
	}

	res, err := http.Get(srv.URL + "/api/v1/scrape/" + started.CrawlID + "/results?include_progress=true")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		Status     string              `json:"status"`
		Results    []models.PageResult `json:"results"`
		TotalPages int                 `json:"total_pages"`
		Progress   *models.Progress    `json:"progress"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Equal(t, 1, out.TotalPages)
	require.NotNil(t, out.Progress)
	assert.Equal(t, 1, out.Progress.Succeeded)
}

func TestRouter_ResultsUnknownCrawl(t *testing.T) {
	srv, _, _ := testRouter(t)

	resp, err := http.Get(srv.URL + "/api/v1/scrape/nope/results")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_ScrapeRejectsMissingURL(t *testing.T) {
	srv, _, _ := testRouter(t)

	resp, err := http.Post(srv.URL+"/api/v1/scrape", "application/json",
		bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_AuthEnforced(t *testing.T) {
	cfg := config.Load()
	cfg.Server.Mode = "test"
	cfg.Auth.Enabled = true
	cfg.Auth.APIKeys = []string{"secret"}
	cfg.Crawl.OutputDir = t.TempDir()

	m := crawler.NewManager(pageDriver{})
	defer m.Shutdown()
	srv := httptest.NewServer(NewRouter(m, websearch.New(pageDriver{}, nil), cfg, time.Now()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/scrape", "application/json",
		bytes.NewReader([]byte(`{"url":"https://example.test/"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health", nil)
	health, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode, "health stays open without auth")
}
