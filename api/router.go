// Package api exposes the crawl engine over HTTP with gin. The routes
// mirror the remote tool surface one-to-one, plus DELETE /scrape/:id,
// which has no tool counterpart.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyrup-ai/kodegen-tools-citescrape/api/handler"
	"github.com/cyrup-ai/kodegen-tools-citescrape/api/middleware"
	"github.com/cyrup-ai/kodegen-tools-citescrape/config"
	"github.com/cyrup-ai/kodegen-tools-citescrape/crawler"
	"github.com/cyrup-ai/kodegen-tools-citescrape/websearch"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(m *crawler.Manager, ws *websearch.Searcher, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.Limit))

	// Crawl lifecycle (scrape_url / scrape_check_results / scrape_search_results).
	protected.POST("/scrape", handler.PostScrape(m, cfg.Crawl))
	protected.GET("/scrape/:id/results", handler.GetResults(m))
	protected.GET("/scrape/:id/search", handler.GetSearch(m))
	protected.DELETE("/scrape/:id", handler.DeleteCrawl(m))

	// One-shot web search (web_search).
	protected.POST("/search", handler.PostWebSearch(ws))

	return r
}
