// Package driver provides the page-driver capability the crawl engine
// consumes: navigate a URL, return the rendered document plus the links
// found on it. Two implementations exist — a full browser (rod) and a
// plain HTTP fetcher with a Chrome TLS fingerprint — plus a composite
// that escalates from the cheap one to the browser.
package driver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// Result is the outcome of one successful navigation.
type Result struct {
	// FinalURL is the document URL after redirects.
	FinalURL string

	// StatusCode is the HTTP status of the top-level navigation,
	// 0 when the driver could not observe it.
	StatusCode int

	// HTML is the rendered document markup.
	HTML string

	// Title is the document title.
	Title string

	// Links holds the absolute URLs of every anchor on the page,
	// resolved against FinalURL.
	Links []string
}

// Driver is the capability contract. Prepare installs the stealth profile
// and must run before any navigation; Close releases all resources.
// Implementations are safe for concurrent Navigate calls.
type Driver interface {
	Prepare(ctx context.Context) error
	Navigate(ctx context.Context, url string, timeout time.Duration) (*Result, error)
	Close() error
}

// Categorize maps a raw driver failure onto the engine's error kinds.
func Categorize(err error, message string) error {
	var ce *models.CrawlError
	if errors.As(err, &ce) {
		return err
	}

	msg := strings.ToLower(err.Error())
	code := models.ErrCodeNavigation
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		code = models.ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = models.ErrCodeCancelled
	case strings.Contains(msg, "websocket") || strings.Contains(msg, "cdp") ||
		strings.Contains(msg, "context is closed") || strings.Contains(msg, "session closed"):
		code = models.ErrCodeDriverProtocol
	case strings.Contains(msg, "browser has been closed") || strings.Contains(msg, "target crashed") ||
		strings.Contains(msg, "connection is closed") || strings.Contains(msg, "lost connection"):
		code = models.ErrCodeDriverCrashed
	}
	return models.NewCrawlError(code, message, err)
}
