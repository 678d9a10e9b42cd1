package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pledgesite/api/feed"
	"pledgesite/api/logging"
	"pledgesite/api/models"
	"pledgesite/api/tracker"
)

// EngagementHandlers serve comments, sponsors and the plan catalogue. Unlike
// tracking, submission failures are reported to the caller.
type EngagementHandlers struct {
	Recorder   *tracker.Recorder
	Hub        *feed.Hub
	Dispatcher Dispatcher
}

func NewEngagementHandlers(r *tracker.Recorder, hub *feed.Hub, d Dispatcher) *EngagementHandlers {
	return &EngagementHandlers{Recorder: r, Hub: hub, Dispatcher: d}
}

// ListComments returns comments newest first.
func (h *EngagementHandlers) ListComments(c *gin.Context) {
	comments, err := h.Hub.LoadComments(c.Request.Context())
	if err != nil {
		logging.Error().Err(err).Msg("failed to list comments")
		c.JSON(http.StatusOK, []models.Comment{})
		return
	}
	c.JSON(http.StatusOK, comments)
}

func (h *EngagementHandlers) AddComment(c *gin.Context) {
	var req models.CommentRequest
	if !bindJSON(c, &req) {
		return
	}

	comment, err := h.Recorder.AddComment(c.Request.Context(), req.Nickname, req.Content)
	if errors.Is(err, tracker.ErrInvalidComment) {
		writeValidationError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "留言送出失敗，請稍後再試"})
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// ListSponsors returns sponsors oldest first.
func (h *EngagementHandlers) ListSponsors(c *gin.Context) {
	sponsors, err := h.Hub.LoadSponsors(c.Request.Context())
	if err != nil {
		logging.Error().Err(err).Msg("failed to list sponsors")
		c.JSON(http.StatusOK, []models.Sponsor{})
		return
	}
	c.JSON(http.StatusOK, sponsors)
}

// AddSponsor records a pledge and the submit_sponsor funnel step.
func (h *EngagementHandlers) AddSponsor(c *gin.Context) {
	var req models.SponsorRequest
	if !bindJSON(c, &req) {
		return
	}
	client := clientFrom(c)

	sponsor, err := h.Recorder.AddSponsor(c.Request.Context(), client, req.Name, req.PlanName, req.PlanPrice)
	if errors.Is(err, tracker.ErrInvalidSponsor) {
		writeValidationError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "贊助送出失敗，請稍後再試"})
		return
	}

	h.Dispatcher.Go(c.Request.Context(), "recordFunnelStep", func(ctx context.Context) {
		h.Recorder.RecordFunnelStep(ctx, client, models.StepSubmitSponsor, map[string]any{
			"planName":  sponsor.PlanName,
			"planPrice": sponsor.PlanPrice,
		})
	})
	c.JSON(http.StatusCreated, sponsor)
}

func (h *EngagementHandlers) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, models.FundingPlans)
}
