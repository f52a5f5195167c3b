// Package markdown turns cleaned HTML into normalized Markdown and
// provides the plaintext projection the dual index consumes.
package markdown

import (
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// Converter wraps a reusable, goroutine-safe html-to-markdown converter
// plus the postprocessing passes.
type Converter struct {
	conv *converter.Converter
}

// New creates the Converter:
//
//   - base plugin: strips head, meta, link, input, comments — structural
//     noise the cleaner did not own.
//   - commonmark plugin: headings, lists (ordered lists honor start),
//     links, emphasis, fenced code with the language-* class carried
//     onto the fence.
//   - table plugin: rectangular tables with minimal cell padding; the
//     cleaner guarantees the grid shape (colspans expanded, short rows
//     padded).
func New() *Converter {
	return &Converter{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(
					table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
				),
			),
		),
	}
}

// Convert renders HTML to postprocessed Markdown. The sourceURL resolves
// relative link and image targets into absolute URLs so the output is
// self-contained.
func (c *Converter) Convert(html, sourceURL string) (string, error) {
	md, err := c.conv.ConvertString(html, converter.WithDomain(sourceURL))
	if err != nil {
		return "", models.NewCrawlError(models.ErrCodeParse, "markdown conversion failed", err)
	}
	return Postprocess(md), nil
}
