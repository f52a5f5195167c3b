// Package index maintains the dual full-text index of a crawl: one index
// over the Markdown as emitted, one over its plaintext projection. Both
// share document IDs (the canonical URL).
package index

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/cyrup-ai/kodegen-tools-citescrape/markdown"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// Which selects the index a search runs against.
type Which string

const (
	Markdown  Which = "markdown"
	Plaintext Which = "plaintext"
)

// Commit batching bounds: a batch is applied once it holds batchSize
// documents or batchAge has passed since its first document.
const (
	batchSize = 32
	batchAge  = 2 * time.Second
)

// Dual is the paired index writer/searcher of one crawl. Writes are
// serialized internally (single-writer); searches may run concurrently
// with writes and see only committed documents.
type Dual struct {
	mu sync.Mutex

	md    bleve.Index
	plain bleve.Index

	mdBatch    *bleve.Batch
	plainBatch *bleve.Batch
	pending    int
	batchStart time.Time
}

// Open creates or reopens the dual index under dir (the crawl's
// storage directory); indices live in its .index subdirectory.
func Open(dir string) (*Dual, error) {
	md, err := openOne(filepath.Join(dir, ".index", "md"))
	if err != nil {
		return nil, err
	}
	plain, err := openOne(filepath.Join(dir, ".index", "plain"))
	if err != nil {
		md.Close()
		return nil, err
	}
	return &Dual{
		md:         md,
		plain:      plain,
		mdBatch:    md.NewBatch(),
		plainBatch: plain.NewBatch(),
	}, nil
}

func openOne(path string) (bleve.Index, error) {
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, models.NewCrawlError(models.ErrCodeIndexCommit, "open index", err)
		}
		return idx, nil
	}
	idx, err := bleve.New(path, buildMapping())
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeIndexCommit, "create index", err)
	}
	return idx, nil
}

// buildMapping indexes url as a stored keyword (not tokenized), title and
// body tokenized; body keeps term vectors for snippet highlighting.
func buildMapping() mapping.IndexMapping {
	urlField := bleve.NewTextFieldMapping()
	urlField.Analyzer = keyword.Name
	urlField.Store = true
	urlField.IncludeInAll = false

	titleField := bleve.NewTextFieldMapping()
	titleField.Store = true

	bodyField := bleve.NewTextFieldMapping()
	bodyField.Store = true
	bodyField.IncludeTermVectors = true

	fetchedField := bleve.NewDateTimeFieldMapping()
	fetchedField.Store = true
	fetchedField.Index = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("url", urlField)
	doc.AddFieldMappingsAt("title", titleField)
	doc.AddFieldMappingsAt("body", bodyField)
	doc.AddFieldMappingsAt("fetched_at", fetchedField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Add queues one page into both indices. The plaintext projection is
// derived here so callers only hand over the Markdown they saved.
func (d *Dual) Add(url, title, md string, fetchedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == 0 {
		d.batchStart = time.Now()
	}

	if err := d.mdBatch.Index(url, doc(url, title, md, fetchedAt)); err != nil {
		return models.NewCrawlError(models.ErrCodeIndexCommit, "queue markdown doc", err)
	}
	if err := d.plainBatch.Index(url, doc(url, title, markdown.Plaintext(md), fetchedAt)); err != nil {
		return models.NewCrawlError(models.ErrCodeIndexCommit, "queue plaintext doc", err)
	}
	d.pending++

	if d.pending >= batchSize || time.Since(d.batchStart) >= batchAge {
		return d.commitLocked()
	}
	return nil
}

func doc(url, title, body string, fetchedAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"url":        url,
		"title":      title,
		"body":       body,
		"fetched_at": fetchedAt,
	}
}

// Flush commits any queued documents. Call once the crawl settles.
func (d *Dual) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commitLocked()
}

func (d *Dual) commitLocked() error {
	if d.pending == 0 {
		return nil
	}
	if err := d.md.Batch(d.mdBatch); err != nil {
		return models.NewCrawlError(models.ErrCodeIndexCommit, "commit markdown batch", err)
	}
	if err := d.plain.Batch(d.plainBatch); err != nil {
		return models.NewCrawlError(models.ErrCodeIndexCommit, "commit plaintext batch", err)
	}
	d.mdBatch = d.md.NewBatch()
	d.plainBatch = d.plain.NewBatch()
	d.pending = 0
	return nil
}

// Search runs a ranked query against the chosen index and returns hits
// with fragmented body highlights as snippets.
func (d *Dual) Search(query string, limit int, which Which) ([]models.SearchHit, uint64, error) {
	idx := d.plain
	if which == Markdown {
		idx = d.md
	}
	if limit <= 0 {
		limit = 10
	}

	titleQuery := bleve.NewMatchQuery(query)
	titleQuery.SetField("title")
	titleQuery.SetBoost(2)
	bodyQuery := bleve.NewMatchQuery(query)
	bodyQuery.SetField("body")

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(titleQuery, bodyQuery), limit, 0, false)
	req.Fields = []string{"url", "title"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("body")

	res, err := idx.Search(req)
	if err != nil {
		return nil, 0, models.NewCrawlError(models.ErrCodeIndexCommit, "search failed", err)
	}

	hits := make([]models.SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		url, _ := hit.Fields["url"].(string)
		title, _ := hit.Fields["title"].(string)
		hits = append(hits, models.SearchHit{
			URL:     url,
			Title:   title,
			Snippet: strings.Join(hit.Fragments["body"], " … "),
			Score:   hit.Score,
		})
	}
	return hits, res.Total, nil
}

// Close flushes and releases both indices.
func (d *Dual) Close() error {
	flushErr := d.Flush()
	if err := d.md.Close(); flushErr == nil {
		flushErr = err
	}
	if err := d.plain.Close(); flushErr == nil {
		flushErr = err
	}
	return flushErr
}
