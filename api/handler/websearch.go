package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
	"github.com/cyrup-ai/kodegen-tools-citescrape/websearch"
)

// webSearchRequest mirrors the web_search tool arguments.
type webSearchRequest struct {
	Query      string `json:"query" binding:"required"`
	Engine     string `json:"engine,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// PostWebSearch returns a handler for POST /api/v1/search: a one-shot
// SERP scrape through the stealth driver.
func PostWebSearch(s *websearch.Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req webSearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidConfig,
					Message: "query is required",
				},
			})
			return
		}

		results, err := s.Search(c.Request.Context(), req.Engine, req.Query, req.MaxResults)
		if err != nil {
			writeError(c, http.StatusBadGateway, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}
