// Package cleaner prepares raw page HTML for Markdown conversion: it
// strips scripts and widget chrome, drops invisible anchors, and
// normalizes tables so the converter sees a well-formed document.
package cleaner

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// Result is the cleaned document plus the metadata readability found.
type Result struct {
	HTML  string
	Title string
}

var (
	// junkSel matches elements that carry no content.
	junkSel = cascadia.MustCompile("script, style, noscript, iframe, template")

	// roleButtonSel matches ARIA-declared widget chrome.
	roleButtonSel = cascadia.MustCompile(`[role="button"]`)

	// copyShareRe matches class tokens of copy/share widget buttons.
	copyShareRe = regexp.MustCompile(`(?i)^(copy|share|clipboard)$|^(copy|share|clipboard)[-_](btn|button|link|icon|code|widget)s?$|^(btn|button|icon)[-_](copy|share)$`)
)

// invisibleTrimSet holds whitespace plus the zero-width characters that
// make an anchor visually empty.
const invisibleTrimSet = " \t\n\r\u00a0\u200b\u200c\u200d\ufeff"

// Visible reports whether s contains any character that would render.
func Visible(s string) bool {
	return strings.Trim(s, invisibleTrimSet) != ""
}

// Clean runs the full normalization pass over raw HTML. Entity decoding
// happens implicitly in the parse; the serialized output re-encodes only
// the minimal set.
func Clean(rawHTML, sourceURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeParse, "parse page HTML", err)
	}

	doc.FindMatcher(junkSel).Remove()
	stripWidgetChrome(doc)
	dropInvisibleAnchors(doc)
	flattenCodeBlocks(doc)
	normalizeTables(doc)
	rewriteMedia(doc)

	cleaned, err := doc.Html()
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeParse, "serialize cleaned HTML", err)
	}

	return &Result{
		HTML:  cleaned,
		Title: extractTitle(doc, rawHTML, sourceURL),
	}, nil
}

// stripWidgetChrome removes copy/share buttons and other ARIA-declared
// widget controls that would otherwise leak into the Markdown.
func stripWidgetChrome(doc *goquery.Document) {
	doc.FindMatcher(roleButtonSel).Remove()
	doc.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		for _, token := range strings.Fields(class) {
			if copyShareRe.MatchString(token) {
				s.Remove()
				return
			}
		}
	})
}

// dropInvisibleAnchors removes anchors with no visible text, including
// ones whose only content is zero-width space. Anchors wrapping visual
// media survive.
func dropInvisibleAnchors(doc *goquery.Document) {
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		if s.Find("img, picture, svg, video, audio").Length() > 0 {
			return
		}
		if !Visible(s.Text()) {
			s.Remove()
		}
	})
}

// flattenCodeBlocks strips descendant element tags inside code blocks so
// only concatenated text remains; syntax-highlight spans otherwise leak
// markup into the fence.
func flattenCodeBlocks(doc *goquery.Document) {
	doc.Find("pre").Each(func(_ int, pre *goquery.Selection) {
		code := pre.ChildrenFiltered("code")
		if code.Length() > 0 {
			code.Each(func(_ int, c *goquery.Selection) {
				if c.Children().Length() > 0 {
					c.SetText(c.Text())
				}
			})
			return
		}
		if pre.Children().Length() > 0 {
			pre.SetText(pre.Text())
		}
	})
}

// normalizeTables rewrites each table so a row-by-row converter emits a
// rectangular grid: captions move out in front, colspans expand to
// repeated cells, and short rows (the header included) are right-padded
// to the widest row.
func normalizeTables(doc *goquery.Document) {
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		caption := table.Find("caption")
		if text := strings.TrimSpace(caption.Text()); text != "" {
			table.BeforeHtml("<p><strong>" + htmlEscape(text) + "</strong></p>")
		}
		caption.Remove()

		expandColspans(table)

		width := 0
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			if n := row.Find("td, th").Length(); n > width {
				width = n
			}
		})
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td, th")
			missing := width - cells.Length()
			if missing <= 0 || cells.Length() == 0 {
				return
			}
			pad := "<td></td>"
			if cells.Last().Is("th") {
				pad = "<th></th>"
			}
			row.AppendHtml(strings.Repeat(pad, missing))
		})
	})
}

func expandColspans(table *goquery.Selection) {
	table.Find("td[colspan], th[colspan]").Each(func(_ int, cell *goquery.Selection) {
		span, ok := cell.Attr("colspan")
		cell.RemoveAttr("colspan")
		if !ok {
			return
		}
		n := parseSpan(span)
		if n <= 1 {
			return
		}
		tag := goquery.NodeName(cell)
		cell.AfterHtml(strings.Repeat("<"+tag+"></"+tag+">", n-1))
	})
}

func parseSpan(s string) int {
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
		if n > 1000 {
			return 0
		}
	}
	return n
}

// rewriteMedia reduces video/audio elements to links from their <source>
// children only. Text children (fallback messages) and the element's own
// src attribute are discarded; the converter then emits plain links.
func rewriteMedia(doc *goquery.Document) {
	doc.Find("video, audio").Each(func(_ int, media *goquery.Selection) {
		var srcs []string
		media.Find("source[src]").Each(func(_ int, source *goquery.Selection) {
			if src, ok := source.Attr("src"); ok && strings.TrimSpace(src) != "" {
				srcs = append(srcs, strings.TrimSpace(src))
			}
		})
		if len(srcs) == 0 {
			media.Remove()
			return
		}
		var b strings.Builder
		for i, src := range srcs {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(`<a href="` + htmlEscape(src) + `">` + htmlEscape(src) + `</a>`)
		}
		media.ReplaceWithHtml("<p>" + b.String() + "</p>")
	})
}

func htmlEscape(s string) string {
	return html.EscapeString(s)
}

// extractTitle prefers readability's article title, falling back to the
// document <title>.
func extractTitle(doc *goquery.Document, rawHTML, sourceURL string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		if article, err := readability.FromReader(strings.NewReader(rawHTML), u); err == nil {
			if t := strings.TrimSpace(article.Title); t != "" {
				return t
			}
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
