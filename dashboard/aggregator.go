package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pledgesite/api/feed"
	"pledgesite/api/logging"
	"pledgesite/api/metrics"
	"pledgesite/api/models"
)

// Snapshot is the complete admin view at one point in time.
type Snapshot struct {
	VisitorStats   models.VisitorStats         `json:"visitorStats"`
	SearchStats    models.SearchVisitorStats   `json:"searchStats"`
	FunnelStats    models.FunnelStats          `json:"funnelStats"`
	Sponsors       []models.Sponsor            `json:"sponsors"`
	SearchVisitors []models.SearchVisitorEvent `json:"searchVisitors"`
	RecentVisitors []models.VisitorEvent       `json:"recentVisitors"`
	RecentClicks   []models.ButtonClickEvent   `json:"recentClicks"`
	Sections       []models.SectionStats       `json:"sections"`
	SearchKeywords []models.SearchKeywordEvent `json:"searchKeywords"`
	RecentFunnel   []models.FunnelEvent        `json:"recentFunnel"`
	RecentScrolls  []models.ScrollDepthEvent   `json:"recentScrolls"`

	TotalSponsorAmount     int64                `json:"totalSponsorAmount"`
	TotalSponsorAmountText string               `json:"totalSponsorAmountText"`
	Plans                  []PlanStat           `json:"plans"`
	Devices                []Bucket             `json:"devices"`
	Browsers               []Bucket             `json:"browsers"`
	OperatingSystems       []Bucket             `json:"operatingSystems"`
	Funnel                 Conversion           `json:"funnel"`
	TopButtons             []models.ButtonStats `json:"topButtons"`
	TopKeywords            []Bucket             `json:"topKeywords"`
	VisitorTypes           []Bucket             `json:"visitorTypes"`

	UpdatedAt time.Time `json:"updatedAt"`
}

type Options struct {
	SearchVisitorWindow int
	RecentWindow        int
	TopButtons          int
}

// inputs holds the latest value delivered by each feed.
type inputs struct {
	visitorStats   models.VisitorStats
	searchStats    models.SearchVisitorStats
	funnelStats    models.FunnelStats
	sponsors       []models.Sponsor
	searchVisitors []models.SearchVisitorEvent
	recentVisitors []models.VisitorEvent
	allVisitors    []models.VisitorEvent
	recentClicks   []models.ButtonClickEvent
	buttons        []models.ButtonStats
	sections       []models.SectionStats
	keywords       []models.SearchKeywordEvent
	funnelEvents   []models.FunnelEvent
	scrollEvents   []models.ScrollDepthEvent
}

// Aggregator keeps a live Snapshot. It subscribes to its feeds in Serve and
// cancels them all when Serve returns.
type Aggregator struct {
	hub  *feed.Hub
	opts Options
	log  zerolog.Logger

	mu       sync.RWMutex
	in       inputs
	snap     Snapshot
	watchers map[int]chan Snapshot
	nextID   int
}

func NewAggregator(hub *feed.Hub, opts Options) *Aggregator {
	if opts.SearchVisitorWindow <= 0 {
		opts.SearchVisitorWindow = 50
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 100
	}
	if opts.TopButtons <= 0 {
		opts.TopButtons = 10
	}
	a := &Aggregator{
		hub:      hub,
		opts:     opts,
		log:      logging.With("dashboard"),
		watchers: make(map[int]chan Snapshot),
	}
	a.snap = compute(a.in, opts, time.Now().UTC())
	return a
}

func (a *Aggregator) Serve(ctx context.Context) error {
	onError := func(err error) {
		a.log.Warn().Err(err).Msg("dashboard feed failed, keeping last values")
	}

	cancels := []feed.CancelFunc{
		a.hub.VisitorStats(func(v models.VisitorStats) { a.update(func(in *inputs) { in.visitorStats = v }) }, onError),
		a.hub.SearchStats(func(v models.SearchVisitorStats) { a.update(func(in *inputs) { in.searchStats = v }) }, onError),
		a.hub.FunnelStats(func(v models.FunnelStats) { a.update(func(in *inputs) { in.funnelStats = v }) }, onError),
		a.hub.Sponsors(func(v []models.Sponsor) { a.update(func(in *inputs) { in.sponsors = v }) }, onError),
		a.hub.SearchVisitors(a.opts.SearchVisitorWindow, func(v []models.SearchVisitorEvent) {
			a.update(func(in *inputs) { in.searchVisitors = v })
		}, onError),
		a.hub.RecentVisitors(a.opts.RecentWindow, func(v []models.VisitorEvent) {
			a.update(func(in *inputs) { in.recentVisitors = v })
		}, onError),
		a.hub.AllVisitors(func(v []models.VisitorEvent) { a.update(func(in *inputs) { in.allVisitors = v }) }, onError),
		a.hub.RecentButtonClicks(a.opts.RecentWindow, func(v []models.ButtonClickEvent) {
			a.update(func(in *inputs) { in.recentClicks = v })
		}, onError),
		a.hub.AllButtonStats(func(v []models.ButtonStats) { a.update(func(in *inputs) { in.buttons = v }) }, onError),
		a.hub.SectionStats(func(v []models.SectionStats) { a.update(func(in *inputs) { in.sections = v }) }, onError),
		a.hub.SearchKeywords(a.opts.SearchVisitorWindow, func(v []models.SearchKeywordEvent) {
			a.update(func(in *inputs) { in.keywords = v })
		}, onError),
		a.hub.RecentFunnelEvents(a.opts.RecentWindow, func(v []models.FunnelEvent) {
			a.update(func(in *inputs) { in.funnelEvents = v })
		}, onError),
		a.hub.RecentScrollEvents(a.opts.RecentWindow, func(v []models.ScrollDepthEvent) {
			a.update(func(in *inputs) { in.scrollEvents = v })
		}, onError),
	}
	a.log.Info().Int("feeds", len(cancels)).Msg("dashboard aggregator started")

	<-ctx.Done()
	for _, cancel := range cancels {
		cancel()
	}
	return ctx.Err()
}

func (a *Aggregator) String() string {
	return "dashboard-aggregator"
}

// Snapshot returns the latest computed view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Watch returns a channel that always holds the most recent snapshot not yet
// received. stop releases it.
func (a *Aggregator) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.watchers[id] = ch
	ch <- a.snap
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.watchers, id)
			a.mu.Unlock()
		})
	}
}

func (a *Aggregator) update(apply func(*inputs)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	apply(&a.in)
	a.snap = compute(a.in, a.opts, time.Now().UTC())
	metrics.DashboardRecomputes.Inc()

	for _, ch := range a.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- a.snap
	}
}

func compute(in inputs, opts Options, now time.Time) Snapshot {
	total := TotalSponsorAmount(in.sponsors)
	return Snapshot{
		VisitorStats:   in.visitorStats,
		SearchStats:    in.searchStats,
		FunnelStats:    in.funnelStats,
		Sponsors:       nonNil(in.sponsors),
		SearchVisitors: nonNil(in.searchVisitors),
		RecentVisitors: nonNil(in.recentVisitors),
		RecentClicks:   nonNil(in.recentClicks),
		Sections:       nonNil(in.sections),
		SearchKeywords: nonNil(in.keywords),
		RecentFunnel:   nonNil(in.funnelEvents),
		RecentScrolls:  nonNil(in.scrollEvents),

		TotalSponsorAmount:     total,
		TotalSponsorAmountText: FormatAmount(total),
		Plans:                  PlanStatistics(in.sponsors),
		Devices:                DeviceDistribution(in.allVisitors),
		Browsers:               BrowserDistribution(in.allVisitors),
		OperatingSystems:       OSDistribution(in.allVisitors),
		Funnel:                 FunnelConversion(in.funnelStats),
		TopButtons:             TopButtons(in.buttons, opts.TopButtons),
		TopKeywords:            KeywordDistribution(in.keywords),
		VisitorTypes:           VisitorTypeDistribution(in.funnelEvents),

		UpdatedAt: now,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
