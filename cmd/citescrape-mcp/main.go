// citescrape-mcp exposes the crawl engine's four tools over MCP stdio.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cyrup-ai/kodegen-tools-citescrape/cache"
	"github.com/cyrup-ai/kodegen-tools-citescrape/config"
	"github.com/cyrup-ai/kodegen-tools-citescrape/crawler"
	"github.com/cyrup-ai/kodegen-tools-citescrape/driver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/index"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
	"github.com/cyrup-ai/kodegen-tools-citescrape/stealth"
	"github.com/cyrup-ai/kodegen-tools-citescrape/websearch"
)

func main() {
	cfg := config.Load()
	initLogger(cfg.Log)

	profile := stealth.NewProfile(cfg.Browser.WebGLVendor, cfg.Browser.WebGLRenderer)
	drv := driver.NewFallback(
		driver.NewHTTP(cfg.Browser.DefaultProxy),
		driver.NewRod(cfg.Browser, profile),
	)
	if err := drv.Prepare(context.Background()); err != nil {
		slog.Error("failed to prepare page driver", "error", err)
		os.Exit(1)
	}
	defer drv.Close()

	manager := crawler.NewManager(drv)
	defer manager.Shutdown()

	serpCache := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer serpCache.Stop()
	searcher := websearch.New(drv, serpCache)

	s := server.NewMCPServer(
		"citescrape",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	scrapeURLTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Start a stealth crawl from a URL. Pages are fetched with a headless browser, converted to Markdown, and saved as sister HTML/MD files. Returns a crawl_id to poll."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to start crawling from"),
		),
		mcp.WithString("output_dir",
			mcp.Description("Directory to store crawl output (default: configured output dir)"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Maximum link-follow depth from the start URL (default: 3)"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Maximum number of pages to crawl (default: 100)"),
		),
		mcp.WithBoolean("follow_external_links",
			mcp.Description("Follow links to other registrable domains (default: false)"),
		),
		mcp.WithBoolean("enable_search",
			mcp.Description("Build a full-text search index over the crawl output (default: false)"),
		),
	)
	s.AddTool(scrapeURLTool, handleScrapeURL(manager, cfg.Crawl))

	checkResultsTool := mcp.NewTool("scrape_check_results",
		mcp.WithDescription("Poll a crawl for status and page results. Results are paged; pass include_progress for counters and recent errors."),
		mcp.WithString("crawl_id",
			mcp.Required(),
			mcp.Description("The crawl_id returned by scrape_url"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Result offset for paging (default: 0)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default: 10)"),
		),
		mcp.WithBoolean("include_progress",
			mcp.Description("Include fetch counters and recent errors (default: false)"),
		),
	)
	s.AddTool(checkResultsTool, handleCheckResults(manager))

	searchResultsTool := mcp.NewTool("scrape_search_results",
		mcp.WithDescription("Full-text search over a crawl's indexed pages. Requires the crawl to have been started with enable_search."),
		mcp.WithString("crawl_id",
			mcp.Required(),
			mcp.Description("The crawl_id returned by scrape_url"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum hits to return (default: 10)"),
		),
		mcp.WithString("search_type",
			mcp.Description("Index to search: 'plaintext' (default) or 'markdown'"),
			mcp.Enum("plaintext", "markdown"),
		),
	)
	s.AddTool(searchResultsTool, handleSearchResults(manager))

	webSearchTool := mcp.NewTool("web_search",
		mcp.WithDescription("One-shot web search: scrape a search engine results page with a stealth browser and return organic results."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithString("engine",
			mcp.Description("Search engine to use (default: google)"),
			mcp.Enum("google", "bing", "duckduckgo"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum results to return (default: 10)"),
		),
	)
	s.AddTool(webSearchTool, handleWebSearch(searcher))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleScrapeURL(m *crawler.Manager, defaults config.CrawlConfig) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		args := crawler.ScrapeArgs{
			URL:       url,
			OutputDir: request.GetString("output_dir", ""),
		}
		raw := request.GetArguments()
		if v, ok := intArg(raw, "max_depth"); ok {
			args.MaxDepth = &v
		}
		if v, ok := intArg(raw, "max_pages"); ok {
			args.MaxPages = &v
		}
		if v, ok := boolArg(raw, "follow_external_links"); ok {
			args.FollowExternalLinks = &v
		}
		if v, ok := boolArg(raw, "enable_search"); ok {
			args.EnableSearch = &v
		}

		id, dir, err := m.Start(crawler.BuildConfig(args, defaults))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{
			"crawl_id":   id,
			"output_dir": dir,
			"status":     models.StatusRunning,
		})
	}
}

func handleCheckResults(m *crawler.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("crawl_id")
		if err != nil {
			return mcp.NewToolResultError("crawl_id is required"), nil
		}
		sup, ok := m.Get(id)
		if !ok {
			return mcp.NewToolResultError("crawl not found: " + id), nil
		}

		raw := request.GetArguments()
		offset, _ := intArg(raw, "offset")
		limit, hasLimit := intArg(raw, "limit")
		if !hasLimit {
			limit = 10
		}

		page, total := sup.Results(offset, limit)
		resp := map[string]any{
			"status":      sup.Status(),
			"results":     page,
			"total_pages": total,
		}
		if v, ok := boolArg(raw, "include_progress"); ok && v {
			resp["progress"] = sup.Progress()
		}
		return jsonResult(resp)
	}
}

func handleSearchResults(m *crawler.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("crawl_id")
		if err != nil {
			return mcp.NewToolResultError("crawl_id is required"), nil
		}
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		sup, ok := m.Get(id)
		if !ok {
			return mcp.NewToolResultError("crawl not found: " + id), nil
		}

		raw := request.GetArguments()
		limit, hasLimit := intArg(raw, "limit")
		if !hasLimit {
			limit = 10
		}
		which := index.Which(request.GetString("search_type", string(index.Plaintext)))

		hits, total, err := sup.Search(query, limit, which)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"results":    hits,
			"total_hits": total,
		})
	}
}

func handleWebSearch(ws *websearch.Searcher) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		engine := request.GetString("engine", websearch.Google)
		maxResults, hasMax := intArg(request.GetArguments(), "max_results")
		if !hasMax {
			maxResults = 10
		}

		results, err := ws.Search(ctx, engine, query, maxResults)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"results": results})
	}
}

// intArg reads a JSON number argument (decoded as float64) as an int.
func intArg(args map[string]any, name string) (int, bool) {
	v, ok := args[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func boolArg(args map[string]any, name string) (bool, bool) {
	v, ok := args[name]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to encode result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// initLogger configures slog based on the LogConfig. MCP stdio owns
// stdout, so logs go to stderr.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
