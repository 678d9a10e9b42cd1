// Package tracker turns page activity into event records and running counters.
//
// Tracking operations (visits, clicks, scrolls, funnel steps) log and count their
// failures and never return them. Comments and sponsors are direct user actions,
// so their failures are returned to the caller.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pledgesite/api/logging"
	"pledgesite/api/metrics"
	"pledgesite/api/models"
	"pledgesite/api/session"
	"pledgesite/api/store"
	"pledgesite/api/utils"
	"pledgesite/api/validation"
)

var (
	ErrInvalidComment = errors.New("invalid comment")
	ErrInvalidSponsor = errors.New("invalid sponsor")
)

// Client identifies who an operation is recorded for.
type Client struct {
	SessionID string
	VisitorID string
	// PageID identifies one page load. Scroll deduplication is scoped to it and
	// falls back to the session when empty.
	PageID string
	IP     string
}

func (c Client) pageKey() string {
	if c.PageID != "" {
		return c.PageID
	}
	return c.SessionID
}

// Visit is the browser context captured on page load.
type Visit struct {
	UserAgent    string
	Referrer     string
	ScreenWidth  int
	ScreenHeight int
	Language     string
	Path         string
	Title        string
	Query        url.Values
}

type Options struct {
	PossibleKeywords []string
	IPHashKey        []byte
}

type Recorder struct {
	docs      store.DocumentStore
	sink      store.EventSink
	sessionKV session.KV
	visitorKV session.KV
	opts      Options
	log       zerolog.Logger
}

// NewRecorder wires a recorder. sessionKV holds page/session-scoped dedup state;
// visitorKV holds the persistent first-visit flags.
func NewRecorder(docs store.DocumentStore, sink store.EventSink, sessionKV, visitorKV session.KV, opts Options) *Recorder {
	if sink == nil {
		sink = store.NopSink{}
	}
	return &Recorder{
		docs:      docs,
		sink:      sink,
		sessionKV: sessionKV,
		visitorKV: visitorKV,
		opts:      opts,
		log:       logging.With("tracker"),
	}
}

func (r *Recorder) RecordVisit(ctx context.Context, c Client, v Visit) {
	const op = "recordVisit"

	keyword := SearchKeyword(v.Query)
	engine, fromSearch := DetectSearchEngine(v.Referrer)

	referrer := v.Referrer
	if referrer == "" {
		referrer = models.DirectReferrer
	}
	fields := map[string]any{
		"timestamp":    store.ServerTimestamp,
		"userAgent":    v.UserAgent,
		"referrer":     referrer,
		"screenWidth":  v.ScreenWidth,
		"screenHeight": v.ScreenHeight,
		"language":     v.Language,
		"path":         v.Path,
		"isFromSearch": fromSearch,
	}
	if keyword != "" {
		fields["searchKeyword"] = keyword
	}
	if engine != "" {
		fields["searchEngine"] = engine
	}
	if h := utils.HashIP(c.IP, r.opts.IPHashKey); h != "" {
		fields["ipHash"] = h
	}

	if !r.append(ctx, op, models.CollectionVisitors, fields) {
		return
	}
	if !r.accumulate(ctx, op, models.CollectionStats, models.StatsVisitors, store.Accumulation{
		Increments: map[string]int64{"totalVisits": 1},
		Set:        map[string]any{"lastVisit": store.ServerTimestamp},
	}) {
		return
	}

	if fromSearch {
		if !r.append(ctx, op, models.CollectionSearchVisitors, map[string]any{
			"searchEngine":     engine,
			"referrer":         v.Referrer,
			"timestamp":        store.ServerTimestamp,
			"userAgent":        v.UserAgent,
			"possibleKeywords": append([]string(nil), r.opts.PossibleKeywords...),
		}) {
			return
		}
		if !r.accumulate(ctx, op, models.CollectionStats, models.StatsSearchVisitors, store.Accumulation{
			Increments: map[string]int64{"total": 1, models.EngineCounterField(engine): 1},
			Set:        map[string]any{"lastVisit": store.ServerTimestamp},
		}) {
			return
		}
		r.log.Debug().Str("engine", engine).Msg("visitor arrived from search")
	}

	if keyword != "" {
		if !r.append(ctx, op, models.CollectionSearchKeywords, map[string]any{
			"keyword":   keyword,
			"timestamp": store.ServerTimestamp,
			"referrer":  v.Referrer,
		}) {
			return
		}
	}

	props := r.identity(c, v.Path)
	props["page_title"] = v.Title
	props["is_from_search"] = fromSearch
	if keyword != "" {
		props["search_keyword"] = keyword
	}
	if engine != "" {
		props["search_engine"] = engine
	}
	r.sink.LogEvent(ctx, models.EventPageView, props)
}

func (r *Recorder) RecordButtonClick(ctx context.Context, c Client, buttonID, buttonName string, planPrice *int64, section string) {
	const op = "recordButtonClick"

	fields := map[string]any{
		"timestamp":  store.ServerTimestamp,
		"buttonId":   buttonID,
		"buttonName": buttonName,
	}
	if planPrice != nil {
		fields["planPrice"] = *planPrice
	}
	if section != "" {
		fields["section"] = section
	}

	if !r.append(ctx, op, models.CollectionButtonClicks, fields) {
		return
	}
	if !r.accumulate(ctx, op, models.CollectionButtonStats, buttonID, store.Accumulation{
		Increments: map[string]int64{"clicks": 1},
		Set:        map[string]any{"lastClick": store.ServerTimestamp},
		Defaults:   map[string]any{"buttonId": buttonID, "buttonName": buttonName},
	}) {
		return
	}

	props := r.identity(c, "")
	props["button_id"] = buttonID
	props["button_name"] = buttonName
	if planPrice != nil {
		props["plan_price"] = *planPrice
	}
	if section != "" {
		props["section"] = section
	}
	r.sink.LogEvent(ctx, models.EventButtonClick, props)
}

// RecordPlanSelection records a click on a funding plan card.
func (r *Recorder) RecordPlanSelection(ctx context.Context, c Client, planName string, planPrice int64) {
	r.RecordButtonClick(ctx, c, PlanButtonID(planPrice), planName, &planPrice, models.SectionFundingPlans)
}

func PlanButtonID(planPrice int64) string {
	return "plan-" + strconv.FormatInt(planPrice, 10)
}

// RecordShare records a click on a social share button.
func (r *Recorder) RecordShare(ctx context.Context, c Client, platform string) {
	r.RecordButtonClick(ctx, c, "share-"+platform, "分享到 "+platform, nil, "social-share")
}

// RecordScrollDepth records the first view of a tracked section within one page
// load. It reports whether this call recorded it; unknown sections and repeat
// views return false.
func (r *Recorder) RecordScrollDepth(ctx context.Context, c Client, sectionID string) bool {
	const op = "recordScrollDepth"

	if !models.IsTrackedSection(sectionID) {
		return false
	}
	claimed, err := r.sessionKV.SetIfAbsent(ctx, "scroll:"+c.pageKey()+":"+sectionID, "1")
	if err != nil {
		r.fail(op, err)
		return false
	}
	if !claimed {
		return false
	}

	if !r.append(ctx, op, models.CollectionScrollDepth, map[string]any{
		"sectionId": sectionID,
		"timestamp": store.ServerTimestamp,
		"sessionId": c.SessionID,
	}) {
		return true
	}
	if !r.accumulate(ctx, op, models.CollectionSectionStats, sectionID, store.Accumulation{
		Increments: map[string]int64{"views": 1},
		Set:        map[string]any{"lastView": store.ServerTimestamp},
		Defaults:   map[string]any{"sectionId": sectionID},
	}) {
		return true
	}

	props := r.identity(c, "")
	props["section_id"] = sectionID
	r.sink.LogEvent(ctx, models.EventScrollDepth, props)
	return true
}

var reservedFunnelFields = map[string]bool{
	"id":          true,
	"step":        true,
	"timestamp":   true,
	"sessionId":   true,
	"visitorType": true,
}

func (r *Recorder) RecordFunnelStep(ctx context.Context, c Client, step models.FunnelStep, metadata map[string]any) {
	const op = "recordFunnelStep"

	if !step.Valid() {
		r.fail(op, fmt.Errorf("%w: %q", models.ErrUnknownFunnelStep, step))
		return
	}

	fields := map[string]any{
		"step":        string(step),
		"timestamp":   store.ServerTimestamp,
		"sessionId":   c.SessionID,
		"visitorType": string(r.visitorType(ctx, c)),
	}
	props := r.identity(c, "")
	props["step"] = string(step)
	for k, v := range metadata {
		if v == nil || reservedFunnelFields[k] {
			continue
		}
		fields[k] = v
		if _, taken := props[k]; !taken {
			props[k] = v
		}
	}

	if !r.append(ctx, op, models.CollectionFunnel, fields) {
		return
	}
	if !r.accumulate(ctx, op, models.CollectionStats, models.StatsFunnel, store.Accumulation{
		Increments: map[string]int64{string(step): 1},
		Set:        map[string]any{"lastUpdate": store.ServerTimestamp},
	}) {
		return
	}
	r.sink.LogEvent(ctx, models.EventFunnelStep, props)
}

// visitorType is "new" the first time a visitor is seen and "returning" after.
func (r *Recorder) visitorType(ctx context.Context, c Client) models.VisitorType {
	if c.VisitorID == "" {
		return models.VisitorNew
	}
	first, err := r.visitorKV.SetIfAbsent(ctx, "visitor:"+c.VisitorID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		r.log.Warn().Err(err).Str("visitor_id", c.VisitorID).Msg("failed to read visitor flag")
		return models.VisitorNew
	}
	if first {
		return models.VisitorNew
	}
	return models.VisitorReturning
}

// AddComment trims and validates the comment before writing it.
func (r *Recorder) AddComment(ctx context.Context, nickname, content string) (models.Comment, error) {
	comment := models.Comment{
		Nickname: strings.TrimSpace(nickname),
		Content:  strings.TrimSpace(content),
	}
	if err := validation.ValidateStruct(&comment); err != nil {
		return models.Comment{}, fmt.Errorf("%w: %w", ErrInvalidComment, err)
	}

	id, err := r.docs.Append(ctx, models.CollectionComments, map[string]any{
		"nickname":  comment.Nickname,
		"content":   comment.Content,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		r.log.Error().Err(err).Str("operation", "addComment").Msg("failed to add comment")
		return models.Comment{}, fmt.Errorf("failed to add comment: %w", err)
	}
	metrics.TrackingEventsTotal.WithLabelValues(models.CollectionComments).Inc()

	comment.ID = id
	comment.CreatedAt = r.createdAt(ctx, models.CollectionComments, id)
	return comment, nil
}

// AddSponsor writes a pledge and adds it to the sponsor totals.
func (r *Recorder) AddSponsor(ctx context.Context, c Client, name, planName string, planPrice int64) (models.Sponsor, error) {
	sponsor := models.Sponsor{
		Name:      strings.TrimSpace(name),
		PlanName:  strings.TrimSpace(planName),
		PlanPrice: planPrice,
	}
	if err := validation.ValidateStruct(&sponsor); err != nil {
		return models.Sponsor{}, fmt.Errorf("%w: %w", ErrInvalidSponsor, err)
	}

	id, err := r.docs.Append(ctx, models.CollectionSponsors, map[string]any{
		"name":      sponsor.Name,
		"planName":  sponsor.PlanName,
		"planPrice": sponsor.PlanPrice,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		r.log.Error().Err(err).Str("operation", "addSponsor").Msg("failed to add sponsor")
		return models.Sponsor{}, fmt.Errorf("failed to add sponsor: %w", err)
	}
	metrics.TrackingEventsTotal.WithLabelValues(models.CollectionSponsors).Inc()

	err = r.docs.Accumulate(ctx, models.CollectionStats, models.StatsSponsors, store.Accumulation{
		Increments: map[string]int64{"totalSponsors": 1, "totalAmount": sponsor.PlanPrice},
		Set:        map[string]any{"lastSponsor": store.ServerTimestamp},
	})
	if err != nil {
		r.log.Error().Err(err).Str("operation", "addSponsor").Str("sponsor_id", id).Msg("sponsor written but totals not updated")
		return models.Sponsor{}, fmt.Errorf("failed to update sponsor stats: %w", err)
	}

	props := r.identity(c, "")
	props["sponsor_name"] = sponsor.Name
	props["plan_name"] = sponsor.PlanName
	props["plan_price"] = sponsor.PlanPrice
	r.sink.LogEvent(ctx, models.EventSponsorAdded, props)

	sponsor.ID = id
	sponsor.CreatedAt = r.createdAt(ctx, models.CollectionSponsors, id)
	return sponsor, nil
}

func (r *Recorder) createdAt(ctx context.Context, collection, id string) *time.Time {
	doc, err := r.docs.Get(ctx, collection, id)
	if err != nil {
		return nil
	}
	return doc.Time("createdAt")
}

func (r *Recorder) identity(c Client, path string) map[string]any {
	props := map[string]any{}
	if c.SessionID != "" {
		props[store.PropSessionID] = c.SessionID
	}
	if c.VisitorID != "" {
		props[store.PropVisitorID] = c.VisitorID
	}
	if path != "" {
		props[store.PropPagePath] = path
	}
	return props
}

func (r *Recorder) append(ctx context.Context, op, collection string, fields map[string]any) bool {
	if _, err := r.docs.Append(ctx, collection, fields); err != nil {
		r.fail(op, err)
		return false
	}
	metrics.TrackingEventsTotal.WithLabelValues(collection).Inc()
	return true
}

func (r *Recorder) accumulate(ctx context.Context, op, collection, id string, acc store.Accumulation) bool {
	if err := r.docs.Accumulate(ctx, collection, id, acc); err != nil {
		r.fail(op, err)
		return false
	}
	return true
}

func (r *Recorder) fail(op string, err error) {
	metrics.RecordTrackingFailure(op)
	r.log.Error().Err(err).Str("operation", op).Msg("tracking failed")
}
