package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cyrup-ai/kodegen-tools-citescrape/config"
	"github.com/cyrup-ai/kodegen-tools-citescrape/crawler"
	"github.com/cyrup-ai/kodegen-tools-citescrape/index"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// PostScrape returns a handler for POST /api/v1/scrape: start a crawl.
func PostScrape(m *crawler.Manager, defaults config.CrawlConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var args crawler.ScrapeArgs
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidConfig,
					Message: "url is required",
				},
			})
			return
		}

		id, dir, err := m.Start(crawler.BuildConfig(args, defaults))
		if err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"crawl_id":   id,
			"output_dir": dir,
			"status":     models.StatusRunning,
		})
	}
}

// GetResults returns a handler for GET /api/v1/scrape/:id/results: the
// paged result feed plus optional progress counters.
func GetResults(m *crawler.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sup, ok := m.Get(c.Param("id"))
		if !ok {
			writeNotFound(c)
			return
		}

		offset := intQuery(c, "offset", 0)
		limit := intQuery(c, "limit", 10)
		page, total := sup.Results(offset, limit)

		resp := gin.H{
			"status":      sup.Status(),
			"results":     page,
			"total_pages": total,
		}
		if boolQuery(c, "include_progress") {
			resp["progress"] = sup.Progress()
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetSearch returns a handler for GET /api/v1/scrape/:id/search: query
// the crawl's dual index.
func GetSearch(m *crawler.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sup, ok := m.Get(c.Param("id"))
		if !ok {
			writeNotFound(c)
			return
		}

		query := c.Query("query")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidConfig,
					Message: "query is required",
				},
			})
			return
		}

		which := index.Which(c.DefaultQuery("search_type", string(index.Plaintext)))
		hits, total, err := sup.Search(query, intQuery(c, "limit", 10), which)
		if err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"results":    hits,
			"total_hits": total,
		})
	}
}

// DeleteCrawl returns a handler for DELETE /api/v1/scrape/:id: cancel the
// crawl and reclaim its workspace.
func DeleteCrawl(m *crawler.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.Remove(c.Param("id")); err != nil {
			var ce *models.CrawlError
			if errors.As(err, &ce) && ce.Code == models.ErrCodeNotFound {
				writeNotFound(c)
				return
			}
			writeError(c, http.StatusInternalServerError, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func writeNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": models.ErrorDetail{
			Code:    models.ErrCodeNotFound,
			Message: "crawl not found",
		},
	})
}

func writeError(c *gin.Context, status int, err error) {
	var ce *models.CrawlError
	if errors.As(err, &ce) {
		c.JSON(status, gin.H{"error": ce.ToDetail()})
		return
	}
	c.JSON(status, gin.H{
		"error": models.ErrorDetail{
			Code:    models.ErrCodeInternal,
			Message: err.Error(),
		},
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func boolQuery(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}
