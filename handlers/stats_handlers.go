package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pledgesite/api/feed"
)

// StatsHandlers serve the running counters. Read failures degrade to zero values.
type StatsHandlers struct {
	Hub *feed.Hub
}

func NewStatsHandlers(hub *feed.Hub) *StatsHandlers {
	return &StatsHandlers{Hub: hub}
}

func (h *StatsHandlers) Visitors(c *gin.Context) {
	c.JSON(http.StatusOK, h.Hub.LoadVisitorStats(c.Request.Context()))
}

func (h *StatsHandlers) Search(c *gin.Context) {
	c.JSON(http.StatusOK, h.Hub.LoadSearchStats(c.Request.Context()))
}

func (h *StatsHandlers) Funnel(c *gin.Context) {
	c.JSON(http.StatusOK, h.Hub.LoadFunnelStats(c.Request.Context()))
}

func (h *StatsHandlers) Sponsors(c *gin.Context) {
	c.JSON(http.StatusOK, h.Hub.LoadSponsorStats(c.Request.Context()))
}

// Button answers null until the button has been clicked.
func (h *StatsHandlers) Button(c *gin.Context) {
	c.JSON(http.StatusOK, h.Hub.LoadButtonStats(c.Request.Context(), c.Param("id")))
}

func (h *StatsHandlers) Sections(c *gin.Context) {
	c.JSON(http.StatusOK, h.Hub.LoadSectionStats(c.Request.Context()))
}
