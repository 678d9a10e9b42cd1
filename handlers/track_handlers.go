package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"pledgesite/api/models"
	"pledgesite/api/tracker"
)

// TrackHandlers accept tracking calls from the page and record them in the
// background. They answer 202 whether or not the work was queued.
type TrackHandlers struct {
	Recorder   *tracker.Recorder
	Dispatcher Dispatcher
}

func NewTrackHandlers(r *tracker.Recorder, d Dispatcher) *TrackHandlers {
	return &TrackHandlers{Recorder: r, Dispatcher: d}
}

func (h *TrackHandlers) accepted(c *gin.Context, name string, fn func(ctx context.Context)) {
	queued := h.Dispatcher.Go(c.Request.Context(), name, fn)
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

// Visit records a page load and the page_view funnel step.
func (h *TrackHandlers) Visit(c *gin.Context) {
	var req models.VisitRequest
	if !bindJSON(c, &req) {
		return
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}
	visit := tracker.Visit{
		UserAgent:    userAgent,
		Referrer:     req.Referrer,
		ScreenWidth:  req.ScreenWidth,
		ScreenHeight: req.ScreenHeight,
		Language:     req.Language,
		Path:         req.Path,
		Title:        req.Title,
		Query:        tracker.ParseSearch(req.Search),
	}
	client := clientFrom(c)

	h.accepted(c, "recordVisit", func(ctx context.Context) {
		h.Recorder.RecordVisit(ctx, client, visit)
		h.Recorder.RecordFunnelStep(ctx, client, models.StepPageView, nil)
	})
}

func (h *TrackHandlers) Click(c *gin.Context) {
	var req models.ButtonClickRequest
	if !bindJSON(c, &req) {
		return
	}
	client := clientFrom(c)
	h.accepted(c, "recordButtonClick", func(ctx context.Context) {
		h.Recorder.RecordButtonClick(ctx, client, req.ButtonID, req.ButtonName, req.PlanPrice, req.Section)
	})
}

// Plan records a plan card click and the click_plan funnel step.
func (h *TrackHandlers) Plan(c *gin.Context) {
	var req models.PlanSelectionRequest
	if !bindJSON(c, &req) {
		return
	}
	client := clientFrom(c)
	h.accepted(c, "recordPlanSelection", func(ctx context.Context) {
		h.Recorder.RecordPlanSelection(ctx, client, req.PlanName, req.PlanPrice)
		h.Recorder.RecordFunnelStep(ctx, client, models.StepClickPlan, map[string]any{
			"planName":  req.PlanName,
			"planPrice": req.PlanPrice,
		})
	})
}

func (h *TrackHandlers) Share(c *gin.Context) {
	var req models.ShareRequest
	if !bindJSON(c, &req) {
		return
	}
	client := clientFrom(c)
	h.accepted(c, "recordShare", func(ctx context.Context) {
		h.Recorder.RecordShare(ctx, client, req.Platform)
	})
}

// Scroll records the first view of a section. Reaching the funding plans for the
// first time on a page also records scroll_to_plans.
func (h *TrackHandlers) Scroll(c *gin.Context) {
	var req models.ScrollDepthRequest
	if !bindJSON(c, &req) {
		return
	}
	client := clientFrom(c)
	h.accepted(c, "recordScrollDepth", func(ctx context.Context) {
		recorded := h.Recorder.RecordScrollDepth(ctx, client, req.SectionID)
		if recorded && req.SectionID == models.SectionFundingPlans {
			h.Recorder.RecordFunnelStep(ctx, client, models.StepScrollToPlans, nil)
		}
	})
}

func (h *TrackHandlers) Funnel(c *gin.Context) {
	var req models.FunnelStepRequest
	if !bindJSON(c, &req) {
		return
	}
	step, err := models.ParseFunnelStep(req.Step)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	client := clientFrom(c)
	h.accepted(c, "recordFunnelStep", func(ctx context.Context) {
		h.Recorder.RecordFunnelStep(ctx, client, step, req.Metadata)
	})
}
