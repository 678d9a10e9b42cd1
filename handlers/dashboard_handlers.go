package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"pledgesite/api/dashboard"
)

type DashboardHandlers struct {
	Aggregator *dashboard.Aggregator
}

func NewDashboardHandlers(a *dashboard.Aggregator) *DashboardHandlers {
	return &DashboardHandlers{Aggregator: a}
}

func (h *DashboardHandlers) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.Aggregator.Snapshot())
}

// Stream pushes a fresh snapshot after every recompute.
func (h *DashboardHandlers) Stream(c *gin.Context) {
	updates, stop := h.Aggregator.Watch()
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case snap := <-updates:
			c.SSEvent("snapshot", snap)
			return true
		}
	})
}
