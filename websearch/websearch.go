// Package websearch performs one-shot SERP scrapes: spin up a stealth
// page, read the result DOM with engine-specific selectors, close.
package websearch

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/cyrup-ai/kodegen-tools-citescrape/cache"
	"github.com/cyrup-ai/kodegen-tools-citescrape/driver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// Supported engines.
const (
	Google     = "google"
	Bing       = "bing"
	DuckDuckGo = "duckduckgo"
)

const searchTimeout = 30 * time.Second

// Searcher runs web searches through the page driver, with a TTL cache
// in front.
type Searcher struct {
	drv   driver.Driver
	cache *cache.Cache
}

// New creates a Searcher. cache may be nil to disable caching.
func New(drv driver.Driver, c *cache.Cache) *Searcher {
	return &Searcher{drv: drv, cache: c}
}

// Search fetches one SERP and extracts up to maxResults organic hits.
func (s *Searcher) Search(ctx context.Context, engine, query string, maxResults int) ([]models.WebSearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.NewCrawlError(models.ErrCodeInvalidConfig, "query is required", nil)
	}
	if engine == "" {
		engine = Google
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	serpURL, err := buildURL(engine, query)
	if err != nil {
		return nil, err
	}

	key := cache.Key(engine, query)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return clip(cached, maxResults), nil
		}
	}

	res, err := s.drv.Navigate(ctx, serpURL, searchTimeout)
	if err != nil {
		return nil, err
	}

	results, err := Parse(engine, res.HTML)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, results)
	}
	return clip(results, maxResults), nil
}

func clip(results []models.WebSearchResult, n int) []models.WebSearchResult {
	if len(results) <= n {
		return results
	}
	return results[:n]
}

func buildURL(engine, query string) (string, error) {
	q := url.QueryEscape(query)
	switch engine {
	case Google:
		return "https://www.google.com/search?q=" + q + "&num=30", nil
	case Bing:
		return "https://www.bing.com/search?q=" + q, nil
	case DuckDuckGo:
		return "https://html.duckduckgo.com/html/?q=" + q, nil
	default:
		return "", models.NewCrawlError(models.ErrCodeInvalidConfig,
			"unknown search engine "+engine, nil)
	}
}

// Parse extracts organic results from a SERP document using the
// engine's selectors.
func Parse(engine, html string) ([]models.WebSearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeParse, "parse SERP", err)
	}

	switch engine {
	case Google:
		return parseGoogle(doc), nil
	case Bing:
		return parseBing(doc), nil
	case DuckDuckGo:
		return parseDuckDuckGo(doc), nil
	default:
		return nil, models.NewCrawlError(models.ErrCodeInvalidConfig,
			"unknown search engine "+engine, nil)
	}
}

func parseGoogle(doc *goquery.Document) []models.WebSearchResult {
	var results []models.WebSearchResult
	doc.Find("div.g, div[data-sokoban-container]").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h3").First().Text())
		href, _ := s.Find("a[href]").First().Attr("href")
		snippet := strings.TrimSpace(s.Find("div.VwiC3b, span.aCOpRe").First().Text())
		if title == "" || !strings.HasPrefix(href, "http") {
			return
		}
		results = append(results, models.WebSearchResult{Title: title, URL: href, Snippet: snippet})
	})
	return results
}

func parseBing(doc *goquery.Document) []models.WebSearchResult {
	var results []models.WebSearchResult
	doc.Find("li.b_algo").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("h2 a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(s.Find(".b_caption p").First().Text())
		if title == "" || !strings.HasPrefix(href, "http") {
			return
		}
		results = append(results, models.WebSearchResult{Title: title, URL: href, Snippet: snippet})
	})
	return results
}

func parseDuckDuckGo(doc *goquery.Document) []models.WebSearchResult {
	var results []models.WebSearchResult
	doc.Find("div.result").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(s.Find(".result__snippet").First().Text())
		href = decodeDuckDuckGoHref(href)
		if title == "" || !strings.HasPrefix(href, "http") {
			return
		}
		results = append(results, models.WebSearchResult{Title: title, URL: href, Snippet: snippet})
	})
	return results
}

// decodeDuckDuckGoHref unwraps the redirect URLs the HTML endpoint uses
// (//duckduckgo.com/l/?uddg=<encoded>).
func decodeDuckDuckGoHref(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
