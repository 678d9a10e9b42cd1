package feed

import (
	"pledgesite/api/metrics"
	"pledgesite/api/models"
	"pledgesite/api/store"
)

// Typed subscriptions over the collections the page and dashboard read.
// Documents that fail to decode are logged and left out of the list.

var (
	commentsTarget = Collection(models.CollectionComments, store.Descending, 0)
	sponsorsTarget = Collection(models.CollectionSponsors, store.Ascending, 0)
)

func fixComment(c *models.Comment) {
	if c.Nickname == "" {
		c.Nickname = models.AnonymousCommenter
	}
}

func fixSponsor(s *models.Sponsor) {
	if s.Name == "" {
		s.Name = models.AnonymousSponsor
	}
}

func (h *Hub) Comments(fn func([]models.Comment), onError func(error)) CancelFunc {
	return subscribeList(h, commentsTarget, fixComment, fn, onError)
}

func (h *Hub) Sponsors(fn func([]models.Sponsor), onError func(error)) CancelFunc {
	return subscribeList(h, sponsorsTarget, fixSponsor, fn, onError)
}

func (h *Hub) VisitorStats(fn func(models.VisitorStats), onError func(error)) CancelFunc {
	return subscribeDoc(h, Document(models.CollectionStats, models.StatsVisitors), func(v models.VisitorStats, _ bool) { fn(v) }, onError)
}

// SearchStats delivers zeroed counters for every engine until the first search visit.
func (h *Hub) SearchStats(fn func(models.SearchVisitorStats), onError func(error)) CancelFunc {
	return subscribeDoc(h, Document(models.CollectionStats, models.StatsSearchVisitors), func(v models.SearchVisitorStats, _ bool) { fn(v) }, onError)
}

func (h *Hub) FunnelStats(fn func(models.FunnelStats), onError func(error)) CancelFunc {
	return subscribeDoc(h, Document(models.CollectionStats, models.StatsFunnel), func(v models.FunnelStats, _ bool) { fn(v) }, onError)
}

func (h *Hub) SponsorStats(fn func(models.SponsorStats), onError func(error)) CancelFunc {
	return subscribeDoc(h, Document(models.CollectionStats, models.StatsSponsors), func(v models.SponsorStats, _ bool) { fn(v) }, onError)
}

// ButtonStats delivers nil while no click on buttonID has been recorded.
func (h *Hub) ButtonStats(buttonID string, fn func(*models.ButtonStats), onError func(error)) CancelFunc {
	return subscribeDoc(h, Document(models.CollectionButtonStats, buttonID), func(v models.ButtonStats, exists bool) {
		if !exists {
			fn(nil)
			return
		}
		fn(&v)
	}, onError)
}

func (h *Hub) AllButtonStats(fn func([]models.ButtonStats), onError func(error)) CancelFunc {
	return subscribeList(h, Collection(models.CollectionButtonStats, store.Ascending, 0), nil, fn, onError)
}

func (h *Hub) SectionStats(fn func([]models.SectionStats), onError func(error)) CancelFunc {
	return subscribeList(h, Collection(models.CollectionSectionStats, store.Ascending, 0), nil, fn, onError)
}

// SearchVisitors delivers the newest limit search visits, newest first.
func (h *Hub) SearchVisitors(limit int, fn func([]models.SearchVisitorEvent), onError func(error)) CancelFunc {
	return subscribeList(h, Collection(models.CollectionSearchVisitors, store.Descending, limit), nil, fn, onError)
}

func (h *Hub) RecentVisitors(limit int, fn func([]models.VisitorEvent), onError func(error)) CancelFunc {
	return subscribeList(h, Collection(models.CollectionVisitors, store.Descending, limit), nil, fn, onError)
}

// AllVisitors scans the whole visitors collection on every change.
func (h *Hub) AllVisitors(fn func([]models.VisitorEvent), onError func(error)) CancelFunc {
	return h.RecentVisitors(0, fn, onError)
}

func (h *Hub) RecentButtonClicks(limit int, fn func([]models.ButtonClickEvent), onError func(error)) CancelFunc {
	return subscribeList(h, Collection(models.CollectionButtonClicks, store.Descending, limit), nil, fn, onError)
}

// SearchKeywords delivers the newest limit keyword records, newest first.
func (h *Hub) SearchKeywords(limit int, fn func([]models.SearchKeywordEvent), onError func(error)) CancelFunc {
	return subscribeList(h, Collection(models.CollectionSearchKeywords, store.Descending, limit), nil, fn, onError)
}

func (h *Hub) RecentFunnelEvents(limit int, fn func([]models.FunnelEvent), onError func(error)) CancelFunc {
	return subscribeList(h, Collection(models.CollectionFunnel, store.Descending, limit), nil, fn, onError)
}

func (h *Hub) RecentScrollEvents(limit int, fn func([]models.ScrollDepthEvent), onError func(error)) CancelFunc {
	return subscribeList(h, Collection(models.CollectionScrollDepth, store.Descending, limit), nil, fn, onError)
}

func subscribeList[T any](h *Hub, t Target, fix func(*T), fn func([]T), onError func(error)) CancelFunc {
	return h.Subscribe(t, func(s Snapshot) {
		fn(decodeList(h, t, s.Documents, fix))
	}, onError)
}

func decodeList[T any](h *Hub, t Target, docs []store.Document, fix func(*T)) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.Decode(&v); err != nil {
			metrics.FeedErrors.WithLabelValues(t.Collection).Inc()
			h.log.Warn().Err(err).Str("target", t.String()).Str("document_id", doc.ID).Msg("skipping undecodable document")
			continue
		}
		if fix != nil {
			fix(&v)
		}
		out = append(out, v)
	}
	return out
}

// subscribeDoc delivers the zero value of T with exists=false for a missing document.
func subscribeDoc[T any](h *Hub, t Target, fn func(T, bool), onError func(error)) CancelFunc {
	return h.Subscribe(t, func(s Snapshot) {
		var v T
		if len(s.Documents) == 0 {
			fn(v, false)
			return
		}
		if err := s.Documents[0].Decode(&v); err != nil {
			metrics.FeedErrors.WithLabelValues(t.Collection).Inc()
			h.log.Error().Err(err).Str("target", t.String()).Msg("failed to decode document")
			if onError != nil {
				onError(err)
			}
			return
		}
		fn(v, true)
	}, onError)
}
