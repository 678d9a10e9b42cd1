package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pledgesite/api/logging"
	"pledgesite/api/middleware"
	"pledgesite/api/tracker"
	"pledgesite/api/validation"
)

// Dispatcher runs work after the response has been written.
type Dispatcher interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context)) bool
}

func clientFrom(c *gin.Context) tracker.Client {
	return tracker.Client{
		SessionID: middleware.SessionID(c),
		VisitorID: middleware.VisitorID(c),
		PageID:    middleware.PageID(c),
		IP:        c.ClientIP(),
	}
}

// bindJSON decodes and validates the body into req, writing a 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logging.Debug().Err(err).Str("path", c.FullPath()).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeValidationError(c, err)
		return false
	}
	return true
}

func writeValidationError(c *gin.Context, err error) {
	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// parseTimeRange reads RFC3339 start/end query parameters. The range defaults
// to the last seven days.
func parseTimeRange(c *gin.Context) (start, end time.Time, err error) {
	now := time.Now().UTC()
	start, end = now.Add(-7*24*time.Hour), now

	if p := c.Query("start"); p != "" {
		if start, err = time.Parse(time.RFC3339, p); err != nil {
			return start, end, fmt.Errorf("invalid 'start' timestamp format, use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
		}
	}
	if p := c.Query("end"); p != "" {
		if end, err = time.Parse(time.RFC3339, p); err != nil {
			return start, end, fmt.Errorf("invalid 'end' timestamp format, use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
		}
	}
	if end.Before(start) {
		return start, end, errors.New("'end' must not be before 'start'")
	}
	return start, end, nil
}
