package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/correlation-regime-go/internal/cache"
	"github.com/irfndi/correlation-regime-go/internal/logging"
)

// AnalysisCacheAdmin is the maintenance surface of cache.AnalysisCache.
type AnalysisCacheAdmin interface {
	GetStats() cache.AnalysisCacheStats
	Clear(ctx context.Context) (int, error)
}

// CacheHandler exposes analysis cache statistics and the flush endpoint.
type CacheHandler struct {
	cache  AnalysisCacheAdmin
	logger *logging.StandardLogger
}

func NewCacheHandler(c AnalysisCacheAdmin, logger *logging.StandardLogger) *CacheHandler {
	return &CacheHandler{cache: c, logger: logger}
}

// GetCacheStats returns hit/miss counters for the analysis cache
// @Summary Get analysis cache statistics
// @Tags cache
// @Produce json
// @Router /api/v1/analysis/cache/stats [get]
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	stats := h.cache.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"data":     stats,
		"hit_rate": stats.HitRate(),
	})
}

// ClearCache drops every cached analysis
// @Summary Flush the analysis cache
// @Tags cache
// @Produce json
// @Router /api/v1/analysis/cache [delete]
func (h *CacheHandler) ClearCache(c *gin.Context) {
	removed, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to clear analysis cache")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to clear cache",
		})
		return
	}
	h.logger.WithComponent("cache").Info("Analysis cache cleared", "removed", removed)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"removed": removed,
	})
}
