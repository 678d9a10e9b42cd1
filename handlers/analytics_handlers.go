package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pledgesite/api/logging"
	"pledgesite/api/models"
	"pledgesite/api/store"
	"pledgesite/api/utils"
)

// EventQueries is the read side of the analytics event store.
type EventQueries interface {
	GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventName string) ([]store.EventCountByTime, error)
	GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]store.EventCountByTime, error)
	GetTopEvents(ctx context.Context, start, end time.Time, limit uint64) ([]models.EventCount, error)
	GetTopNPagePaths(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
}

// AnalyticsHandlers expose the analytics event queries to the admin page. With
// no event store configured every endpoint answers 503.
type AnalyticsHandlers struct {
	Queries EventQueries
}

func NewAnalyticsHandlers(q EventQueries) *AnalyticsHandlers {
	return &AnalyticsHandlers{Queries: q}
}

func (h *AnalyticsHandlers) available(c *gin.Context) bool {
	if h.Queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": store.ErrAnalyticsDisabled.Error()})
		return false
	}
	return true
}

func (h *AnalyticsHandlers) queryFailed(c *gin.Context, op string, err error) {
	if errors.Is(err, store.ErrAnalyticsDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	logging.Error().Err(err).Str("query", op).Msg("analytics query failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
}

func (h *AnalyticsHandlers) GetEventCountsOverTime(c *gin.Context) {
	if !h.available(c) {
		return
	}
	interval := c.Query("interval")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter must be one of Minute, Hour, Day, Week, Month, Quarter, Year"})
		return
	}
	start, end, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Queries.GetEventCountsOverTime(ctx, interval, start, end, c.Query("event"))
	if err != nil {
		h.queryFailed(c, "eventCounts", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) GetUniqueVisitorsOverTime(c *gin.Context) {
	if !h.available(c) {
		return
	}
	interval := c.Query("interval")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter must be one of Minute, Hour, Day, Week, Month, Quarter, Year"})
		return
	}
	start, end, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Queries.GetUniqueVisitorsOverTime(ctx, interval, start, end)
	if err != nil {
		h.queryFailed(c, "uniqueVisitors", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) GetTopEvents(c *gin.Context) {
	h.top(c, "topEvents", func(ctx context.Context, start, end time.Time, limit uint64) (any, error) {
		return h.Queries.GetTopEvents(ctx, start, end, limit)
	})
}

func (h *AnalyticsHandlers) GetTopNPagePaths(c *gin.Context) {
	h.top(c, "topPaths", func(ctx context.Context, start, end time.Time, limit uint64) (any, error) {
		return h.Queries.GetTopNPagePaths(ctx, start, end, limit)
	})
}

func (h *AnalyticsHandlers) top(c *gin.Context, op string, query func(ctx context.Context, start, end time.Time, limit uint64) (any, error)) {
	if !h.available(c) {
		return
	}
	start, end, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var limit uint64 = 10
	if p := c.Query("limit"); p != "" {
		parsed, err := strconv.ParseUint(p, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := query(ctx, start, end, limit)
	if err != nil {
		h.queryFailed(c, op, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
