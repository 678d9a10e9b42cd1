package feed

import (
	"context"

	"pledgesite/api/models"
	"pledgesite/api/store"
)

// One-shot reads decode exactly like the live feeds. Lists return their errors;
// stats degrade to zero values and log instead.

func (h *Hub) LoadComments(ctx context.Context) ([]models.Comment, error) {
	snap, err := h.read(ctx, commentsTarget)
	if err != nil {
		return nil, err
	}
	return decodeList(h, commentsTarget, snap.Documents, fixComment), nil
}

func (h *Hub) LoadSponsors(ctx context.Context) ([]models.Sponsor, error) {
	snap, err := h.read(ctx, sponsorsTarget)
	if err != nil {
		return nil, err
	}
	return decodeList(h, sponsorsTarget, snap.Documents, fixSponsor), nil
}

func (h *Hub) LoadVisitorStats(ctx context.Context) models.VisitorStats {
	v, _ := loadDoc[models.VisitorStats](ctx, h, Document(models.CollectionStats, models.StatsVisitors))
	return v
}

func (h *Hub) LoadSearchStats(ctx context.Context) models.SearchVisitorStats {
	v, _ := loadDoc[models.SearchVisitorStats](ctx, h, Document(models.CollectionStats, models.StatsSearchVisitors))
	return v
}

func (h *Hub) LoadFunnelStats(ctx context.Context) models.FunnelStats {
	v, _ := loadDoc[models.FunnelStats](ctx, h, Document(models.CollectionStats, models.StatsFunnel))
	return v
}

func (h *Hub) LoadSponsorStats(ctx context.Context) models.SponsorStats {
	v, _ := loadDoc[models.SponsorStats](ctx, h, Document(models.CollectionStats, models.StatsSponsors))
	return v
}

// LoadButtonStats returns nil when the button has no recorded clicks or the read fails.
func (h *Hub) LoadButtonStats(ctx context.Context, buttonID string) *models.ButtonStats {
	v, ok := loadDoc[models.ButtonStats](ctx, h, Document(models.CollectionButtonStats, buttonID))
	if !ok {
		return nil
	}
	return &v
}

func (h *Hub) LoadSectionStats(ctx context.Context) []models.SectionStats {
	t := Collection(models.CollectionSectionStats, store.Ascending, 0)
	snap, err := h.read(ctx, t)
	if err != nil {
		h.log.Error().Err(err).Str("target", t.String()).Msg("stats read failed, returning empty")
		return []models.SectionStats{}
	}
	return decodeList[models.SectionStats](h, t, snap.Documents, nil)
}

func loadDoc[T any](ctx context.Context, h *Hub, t Target) (T, bool) {
	var v T
	snap, err := h.read(ctx, t)
	if err != nil {
		h.log.Error().Err(err).Str("target", t.String()).Msg("stats read failed, returning defaults")
		return v, false
	}
	if len(snap.Documents) == 0 {
		return v, false
	}
	if err := snap.Documents[0].Decode(&v); err != nil {
		h.log.Error().Err(err).Str("target", t.String()).Msg("failed to decode stats")
		var zero T
		return zero, false
	}
	return v, true
}
