package websearch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-tools-citescrape/cache"
	"github.com/cyrup-ai/kodegen-tools-citescrape/driver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

const bingSERP = `<html><body><ol id="b_results">
	<li class="b_algo">
		<h2><a href="https://golang.org/">The Go Programming Language</a></h2>
		<div class="b_caption"><p>Go is an open source language.</p></div>
	</li>
	<li class="b_algo">
		<h2><a href="https://go.dev/doc/">Documentation</a></h2>
		<div class="b_caption"><p>Learn how to use Go.</p></div>
	</li>
	<li class="b_algo"><h2><a href="javascript:void(0)">Junk</a></h2></li>
</ol></body></html>`

const ddgSERP = `<html><body>
	<div class="result">
		<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgolang.org%2F&rut=abc">Go</a>
		<a class="result__snippet">Build fast software.</a>
	</div>
	<div class="result">
		<a class="result__a" href="https://go.dev/">go.dev</a>
		<a class="result__snippet">The home of Go.</a>
	</div>
</body></html>`

const googleSERP = `<html><body><div id="search">
	<div class="g">
		<a href="https://golang.org/"><h3>The Go Programming Language</h3></a>
		<div class="VwiC3b">Go makes it easy.</div>
	</div>
</div></body></html>`

func TestParse_Bing(t *testing.T) {
	results, err := Parse(Bing, bingSERP)
	require.NoError(t, err)
	require.Len(t, results, 2, "non-http hrefs are dropped")
	assert.Equal(t, "The Go Programming Language", results[0].Title)
	assert.Equal(t, "https://golang.org/", results[0].URL)
	assert.Equal(t, "Go is an open source language.", results[0].Snippet)
}

func TestParse_DuckDuckGoUnwrapsRedirects(t *testing.T) {
	results, err := Parse(DuckDuckGo, ddgSERP)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://golang.org/", results[0].URL, "uddg redirect unwrapped")
	assert.Equal(t, "https://go.dev/", results[1].URL)
}

func TestParse_Google(t *testing.T) {
	results, err := Parse(Google, googleSERP)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "The Go Programming Language", results[0].Title)
	assert.Equal(t, "Go makes it easy.", results[0].Snippet)
}

func TestParse_UnknownEngine(t *testing.T) {
	_, err := Parse("altavista", "<html></html>")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeInvalidConfig, models.CodeOf(err))
}

// serpDriver returns a fixed SERP document for any navigation.
type serpDriver struct {
	html  string
	calls int
}

func (d *serpDriver) Prepare(ctx context.Context) error { return nil }
func (d *serpDriver) Close() error                      { return nil }
func (d *serpDriver) Navigate(ctx context.Context, url string, timeout time.Duration) (*driver.Result, error) {
	d.calls++
	return &driver.Result{FinalURL: url, StatusCode: 200, HTML: d.html}, nil
}

func TestSearch_UsesCache(t *testing.T) {
	drv := &serpDriver{html: bingSERP}
	c := cache.New(8, time.Minute)
	defer c.Stop()
	s := New(drv, c)

	first, err := s.Search(context.Background(), Bing, "golang", 10)
	require.NoError(t, err)
	second, err := s.Search(context.Background(), Bing, "golang", 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, drv.calls, "second search must hit the cache")
}

func TestSearch_MaxResults(t *testing.T) {
	drv := &serpDriver{html: bingSERP}
	s := New(drv, nil)

	results, err := s.Search(context.Background(), Bing, "golang", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	s := New(&serpDriver{html: bingSERP}, nil)
	_, err := s.Search(context.Background(), Bing, "  ", 10)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeInvalidConfig, models.CodeOf(err))
}
