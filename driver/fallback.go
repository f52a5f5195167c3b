package driver

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// challengeMarkers flag interstitial pages a scriptless fetch cannot pass.
var challengeMarkers = []string{
	"just a moment",
	"__cf_chl",
	"cf-challenge",
	"attention required",
	"checking your browser",
	"enable javascript and cookies",
	"captcha",
}

// minUsefulBody is the size below which a fetched document is treated as
// a stub that needs the browser to render.
const minUsefulBody = 512

// Fallback composes a cheap driver with the browser: the fast path is
// tried first, and the browser takes over when the fast path errors or
// returns something that looks like a bot challenge. Callers only ever
// see the Driver interface.
type Fallback struct {
	fast    Driver
	browser Driver
}

// NewFallback wires the two tiers together.
func NewFallback(fast, browser Driver) *Fallback {
	return &Fallback{fast: fast, browser: browser}
}

// Prepare readies both tiers; the browser's prepare is the one that matters.
func (d *Fallback) Prepare(ctx context.Context) error {
	if err := d.fast.Prepare(ctx); err != nil {
		return err
	}
	return d.browser.Prepare(ctx)
}

// Navigate tries the fast tier and escalates on failure or a challenge page.
func (d *Fallback) Navigate(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	res, err := d.fast.Navigate(ctx, url, timeout)
	if err == nil && !needsBrowser(res) {
		return res, nil
	}
	if err != nil {
		slog.Debug("fast driver failed, escalating to browser", "url", url, "error", err)
	} else {
		slog.Debug("fast driver hit a challenge page, escalating to browser", "url", url)
	}
	if ctx.Err() != nil {
		return nil, Categorize(ctx.Err(), "navigation abandoned before escalation")
	}
	return d.browser.Navigate(ctx, url, timeout)
}

// Close releases both tiers, keeping the first error.
func (d *Fallback) Close() error {
	err := d.fast.Close()
	if berr := d.browser.Close(); err == nil {
		err = berr
	}
	return err
}

// needsBrowser reports whether a fast-tier result is unusable without
// script execution.
func needsBrowser(res *Result) bool {
	if len(res.HTML) < minUsefulBody {
		return true
	}
	lower := strings.ToLower(res.HTML)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
