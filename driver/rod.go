package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	rodstealth "github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/cyrup-ai/kodegen-tools-citescrape/config"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
	"github.com/cyrup-ai/kodegen-tools-citescrape/stealth"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// Rod drives a headless Chromium via go-rod. Pages are pooled and reused;
// the stealth profile is installed on every page at creation, before any
// navigation, so no page script ever observes the un-patched globals.
type Rod struct {
	cfg     config.BrowserConfig
	profile *stealth.Profile

	mu      sync.Mutex
	browser *rod.Browser
	pool    rod.Pool[rod.Page]
}

// NewRod creates an unprepared rod driver carrying the given profile.
func NewRod(cfg config.BrowserConfig, profile *stealth.Profile) *Rod {
	return &Rod{cfg: cfg, profile: profile}
}

// Prepare launches the browser and initialises the page pool. It may be
// called again after Close to restart a crashed driver.
func (d *Rod) Prepare(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(d.cfg.Headless).
		NoSandbox(d.cfg.NoSandbox)

	if d.cfg.BrowserBin != "" {
		l = l.Bin(d.cfg.BrowserBin)
	}
	if d.cfg.DefaultProxy != "" {
		l = l.Proxy(d.cfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return models.NewCrawlError(models.ErrCodeDriverCrashed, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return models.NewCrawlError(models.ErrCodeDriverCrashed, "failed to connect to browser", err)
	}

	d.browser = browser
	d.pool = rod.NewPagePool(d.cfg.MaxPages)
	slog.Info("page pool created", "maxPages", d.cfg.MaxPages)
	return nil
}

// newPage creates a pooled page with both stealth layers installed:
// the go-rod/stealth baseline first, then this engine's profile bundle.
// EvalOnNewDocument guarantees they run before any author script on
// every top-level document the page loads.
func (d *Rod) newPage() (*rod.Page, error) {
	page, err := d.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	if _, err := page.EvalOnNewDocument(rodstealth.JS); err != nil {
		slog.Warn("baseline stealth injection failed", "error", err)
	}
	if _, err := page.EvalOnNewDocument(d.profile.Bundle()); err != nil {
		slog.Warn("profile injection failed", "error", err)
	}
	return page, nil
}

// Navigate loads the URL and extracts the rendered document plus links.
//
// Lifecycle:
//  1. deadline guard on the whole operation
//  2. page borrowed from the pool (created with stealth pre-installed)
//  3. deferred cleanup: about:blank + pool return, using the original
//     page reference so cleanup survives an expired request context
//  4. referer camouflage + resource-blocking hijack, before navigation
//  5. navigate, wait for a stable DOM
//  6. status code, overlay removal, HTML/title/links extraction
func (d *Rod) Navigate(ctx context.Context, target string, timeout time.Duration) (*Result, error) {
	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()
	if browser == nil {
		return nil, models.NewCrawlError(models.ErrCodeDriverCrashed, "driver not prepared", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := d.pool.Get(d.newPage)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeDriverCrashed, "failed to acquire page from pool", err)
	}
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		d.pool.Put(page)
	}()

	// Referer camouflage: arrive "from" a search for the host.
	if u, parseErr := url.Parse(target); parseErr == nil {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: proto.NetworkHeaders{
				"Referer": gson.New("https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())),
			},
		}.Call(page)
	}

	router := setupHijack(page, d.cfg.BlockedResourceTypes)
	if router != nil {
		defer func() { _ = router.Stop() }()
	}

	p := page.Context(ctx)

	if err := p.Navigate(target); err != nil {
		return nil, Categorize(err, "navigation to target URL failed")
	}
	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", stableErr)
	}

	// Status code via the navigation performance entry; no CDP event
	// listeners needed (they conflict with the hijack Fetch domain).
	statusCode := 0
	if res, evalErr := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); evalErr == nil {
		statusCode = res.Value.Int()
	}
	if statusCode >= 400 {
		return nil, models.NewCrawlError(models.ErrCodeNavigation,
			fmt.Sprintf("HTTP %d for %s", statusCode, target), nil)
	}

	removeOverlays(p)

	html, err := p.HTML()
	if err != nil {
		return nil, Categorize(err, "failed to extract page HTML")
	}

	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = target
	}

	return &Result{
		FinalURL:   finalURL,
		StatusCode: statusCode,
		HTML:       html,
		Title:      evalStringOrEmpty(p, `() => document.title`),
		Links:      extractAnchors(p),
	}, nil
}

// Close kills the browser process and drains the pool.
func (d *Rod) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil
	}
	d.pool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	err := d.browser.Close()
	d.browser = nil
	return err
}

// setupHijack installs a request interceptor that aborts the configured
// resource types, cutting bandwidth and DOM settle time. Returns nil when
// nothing is blocked.
func setupHijack(page *rod.Page, blockedTypes []string) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	go router.Run()
	return router
}

// removeOverlays drops fixed-position consent/cookie overlays so they do
// not pollute the extracted content. Best-effort.
func removeOverlays(page *rod.Page) {
	_, _ = page.Eval(`() => {
		try {
			const selectors = [
				'[class*="cookie-banner"]', '[class*="cookie-consent"]', '[id*="cookie-banner"]',
				'[class*="consent-modal"]', '[id*="onetrust"]', '[class*="gdpr"]',
				'[class*="newsletter-modal"]', '[class*="paywall-overlay"]'
			];
			for (const sel of selectors) {
				document.querySelectorAll(sel).forEach((el) => el.remove());
			}
			const body = document.body;
			if (body && getComputedStyle(body).overflow === 'hidden') {
				body.style.overflow = 'auto';
			}
		} catch (e) {}
	}`)
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// extractAnchors reads every anchor href as the browser resolved it,
// which makes them absolute against the final document URL.
func extractAnchors(page *rod.Page) []string {
	res, err := page.Eval(`() => Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`)
	if err != nil {
		return nil
	}
	return gsonStrings(res.Value)
}

// gsonStrings flattens a gson array value into unique strings.
func gsonStrings(v gson.JSON) []string {
	arr := v.Arr()
	seen := make(map[string]struct{}, len(arr))
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s := item.Str()
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
