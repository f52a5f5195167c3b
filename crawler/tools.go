package crawler

import (
	"github.com/cyrup-ai/kodegen-tools-citescrape/config"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// ScrapeArgs mirrors the scrape_url tool arguments. Pointer fields
// distinguish "absent" from zero so the precedence chain holds:
// tool args → environment defaults → built-in defaults.
type ScrapeArgs struct {
	URL                 string `json:"url" binding:"required"`
	OutputDir           string `json:"output_dir,omitempty"`
	MaxDepth            *int   `json:"max_depth,omitempty"`
	MaxPages            *int   `json:"max_pages,omitempty"`
	FollowExternalLinks *bool  `json:"follow_external_links,omitempty"`
	EnableSearch        *bool  `json:"enable_search,omitempty"`
}

// BuildConfig resolves ScrapeArgs against the environment defaults.
func BuildConfig(args ScrapeArgs, defaults config.CrawlConfig) models.CrawlConfig {
	cfg := models.CrawlConfig{
		StartURL:             args.URL,
		StorageDir:           defaults.OutputDir,
		MaxDepth:             defaults.MaxDepth,
		MaxPages:             defaults.MaxPages,
		RateLimitDelay:       defaults.RateLimitDelay,
		MaxConcurrentPerHost: defaults.MaxConcurrentPerHost,
		Timeout:              defaults.Timeout,
		EnableCompression:    defaults.EnableCompression,
		CircuitBreakerLimit:  defaults.CircuitBreakerLimit,
	}
	if args.OutputDir != "" {
		cfg.StorageDir = args.OutputDir
	}
	if args.MaxDepth != nil {
		cfg.MaxDepth = *args.MaxDepth
	}
	if args.MaxPages != nil {
		cfg.MaxPages = *args.MaxPages
	}
	if args.FollowExternalLinks != nil {
		cfg.FollowExternalLinks = *args.FollowExternalLinks
	}
	if args.EnableSearch != nil {
		cfg.EnableSearch = *args.EnableSearch
	}
	return cfg
}
