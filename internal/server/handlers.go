package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lepinkainen/coverfinder/internal/cover"
	apperrors "github.com/lepinkainen/coverfinder/internal/errors"
)

// coverRequest is the body of POST /api/book-cover.
type coverRequest struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	ISBN         string `json:"isbn"`
	Genre        string `json:"genre"`
	Publisher    string `json:"publisher"`
	Year         int    `json:"year"`
	AccuracyMode string `json:"accuracyMode"`
}

func (r coverRequest) query() cover.BookQuery {
	return cover.BookQuery{
		Title:     r.Title,
		Author:    r.Author,
		ISBN:      r.ISBN,
		Genre:     r.Genre,
		Publisher: r.Publisher,
		Year:      r.Year,
	}
}

// coverResponse is the public result shape.
type coverResponse struct {
	Success      bool   `json:"success"`
	ImageURL     string `json:"imageUrl,omitempty"`
	Confidence   int    `json:"confidence"`
	Source       string `json:"source,omitempty"`
	SearchMethod string `json:"searchMethod,omitempty"`
}

func newCoverResponse(r cover.ResolutionResult) coverResponse {
	return coverResponse{
		Success:      r.Success,
		ImageURL:     r.ImageURL,
		Confidence:   r.Confidence,
		Source:       r.Source,
		SearchMethod: r.StrategyUsed,
	}
}

// batchItemResponse is one entry of the POST /api/book-covers answer.
type batchItemResponse struct {
	Index int `json:"index"`
	coverResponse
	Error string `json:"error,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) resolveCover(c *gin.Context) {
	var req coverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	mode, ok := cover.ParseMode(req.AccuracyMode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown accuracyMode %q", req.AccuracyMode)})
		return
	}

	res, err := s.resolver.Resolve(c.Request.Context(), req.query(), mode)
	if err != nil {
		if apperrors.IsInvalidQuery(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cover resolution failed"})
		return
	}

	c.JSON(http.StatusOK, newCoverResponse(res.Result))
}

// resolveCovers takes a JSON array of cover requests. The accuracy mode
// applies to the whole batch and comes from the accuracyMode query parameter.
func (s *Server) resolveCovers(c *gin.Context) {
	var reqs []coverRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body, expected an array"})
		return
	}
	if len(reqs) > s.cfg.MaxBatchItems {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Too many items (max %d)", s.cfg.MaxBatchItems)})
		return
	}
	mode, ok := cover.ParseMode(c.Query("accuracyMode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown accuracyMode %q", c.Query("accuracyMode"))})
		return
	}

	items := make([]cover.BookQuery, len(reqs))
	for i, req := range reqs {
		items[i] = req.query()
	}

	results := s.resolver.ResolveBatch(c.Request.Context(), items, mode, s.batch)
	out := make([]batchItemResponse, len(results))
	for i, res := range results {
		out[i] = batchItemResponse{
			Index:         res.Index,
			coverResponse: newCoverResponse(res.Result),
			Error:         res.Error,
		}
	}
	slog.Info("Batch request served", "items", len(items), "mode", mode, "request_id", c.GetString(requestIDKey))
	c.JSON(http.StatusOK, out)
}

func (s *Server) cacheStats(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cache disabled"})
		return
	}
	c.JSON(http.StatusOK, s.store.Stats())
}

func (s *Server) clearCacheTag(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cache disabled"})
		return
	}
	tag := c.Param("tag")
	removed := s.store.ClearByTag(tag)
	slog.Info("Cleared cache tag", "tag", tag, "removed", removed)
	c.JSON(http.StatusOK, gin.H{"tag": tag, "removed": removed})
}
