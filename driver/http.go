package driver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	utls "github.com/refraction-networking/utls"
	xproxy "golang.org/x/net/proxy"

	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
	"github.com/cyrup-ai/kodegen-tools-citescrape/stealth"
)

const maxBodyBytes = 10 * 1024 * 1024 // 10 MB cap

// HTTP fetches pages over plain HTTP with a Chrome TLS fingerprint (utls).
// It cannot run page scripts, so it only suits static documents; the
// composite driver escalates to the browser when this one comes up short.
type HTTP struct {
	proxy     string
	userAgent string
}

// NewHTTP creates the HTTP driver.
func NewHTTP(proxy string) *HTTP {
	return &HTTP{proxy: proxy, userAgent: stealth.DefaultUserAgent}
}

// Prepare is a no-op: there is no browser to warm up.
func (d *HTTP) Prepare(ctx context.Context) error { return nil }

// Close is a no-op.
func (d *HTTP) Close() error { return nil }

// Navigate fetches the URL and parses links out of the static document.
func (d *HTTP) Navigate(ctx context.Context, target string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, network, addr, d.proxy)
		},
	}
	if d.proxy != "" {
		if proxyURL, err := url.Parse(d.proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client := &http.Client{Transport: transport}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeNavigation, "build request", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, Categorize(err, "http fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, models.NewCrawlError(models.ErrCodeNavigation,
			fmt.Sprintf("HTTP %d for %s", resp.StatusCode, target), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, Categorize(err, "read body")
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	title, links := parseDocument(string(body), finalURL)
	return &Result{
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		HTML:       string(body),
		Title:      title,
		Links:      links,
	}, nil
}

// parseDocument pulls the title and the absolute link set out of a static
// HTML document, resolving relative hrefs against the final URL.
func parseDocument(html, finalURL string) (title string, links []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil
	}
	base, baseErr := url.Parse(finalURL)

	title = strings.TrimSpace(doc.Find("title").First().Text())

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || baseErr != nil {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return title, links
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via utls.
func dialTLSChrome(ctx context.Context, network, addr, proxy string) (net.Conn, error) {
	var rawConn net.Conn
	var err error

	dialer := &net.Dialer{}

	if proxy != "" {
		if proxyURL, parseErr := url.Parse(proxy); parseErr == nil &&
			(proxyURL.Scheme == "socks5" || proxyURL.Scheme == "socks5h") {
			socksDialer, socksErr := xproxy.FromURL(proxyURL, dialer)
			if socksErr != nil {
				return nil, fmt.Errorf("socks5 proxy: %w", socksErr)
			}
			cd, ok := socksDialer.(xproxy.ContextDialer)
			if !ok {
				return nil, fmt.Errorf("socks5 proxy: dialer lacks context support")
			}
			socksConn, socksErr := cd.DialContext(ctx, network, addr)
			if socksErr != nil {
				return nil, fmt.Errorf("socks5 dial: %w", socksErr)
			}
			rawConn = socksConn
		}
	}

	if rawConn == nil {
		rawConn, err = dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName: host,
	}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
