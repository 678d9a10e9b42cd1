package handlers

import (
	"github.com/gin-gonic/gin"

	"pledgesite/api/dashboard"
	"pledgesite/api/feed"
	"pledgesite/api/middleware"
	"pledgesite/api/session"
	"pledgesite/api/tracker"
)

// RouterDeps is everything the HTTP surface needs. Queries and Limiter may be
// nil: the admin event endpoints then answer 503 and submissions are not
// rate limited.
type RouterDeps struct {
	Recorder      *tracker.Recorder
	Dispatcher    Dispatcher
	Hub           *feed.Hub
	Aggregator    *dashboard.Aggregator
	Queries       EventQueries
	Tokens        *session.Tokens
	Limiter       *middleware.RateLimiter
	AllowedOrigin string
	CookieSecure  bool
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORSMiddleware(d.AllowedOrigin))

	r.GET("/health", Health)
	r.GET("/metrics", Metrics())

	track := NewTrackHandlers(d.Recorder, d.Dispatcher)
	engagement := NewEngagementHandlers(d.Recorder, d.Hub, d.Dispatcher)
	stats := NewStatsHandlers(d.Hub)
	feeds := NewFeedHandlers(d.Hub, d.AllowedOrigin)
	dash := NewDashboardHandlers(d.Aggregator)
	analytics := NewAnalyticsHandlers(d.Queries)

	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if d.Limiter == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{d.Limiter.Middleware(), h}
	}

	api := r.Group("/api")
	api.Use(middleware.Session(d.Tokens, d.CookieSecure))
	{
		t := api.Group("/track")
		{
			t.POST("/visit", track.Visit)
			t.POST("/click", track.Click)
			t.POST("/plan", track.Plan)
			t.POST("/share", track.Share)
			t.POST("/scroll", track.Scroll)
			t.POST("/funnel", track.Funnel)
		}

		api.GET("/comments", engagement.ListComments)
		api.POST("/comments", limited(engagement.AddComment)...)
		api.GET("/sponsors", engagement.ListSponsors)
		api.POST("/sponsors", limited(engagement.AddSponsor)...)
		api.GET("/plans", engagement.ListPlans)

		s := api.Group("/stats")
		{
			s.GET("/visitors", stats.Visitors)
			s.GET("/search", stats.Search)
			s.GET("/funnel", stats.Funnel)
			s.GET("/sponsors", stats.Sponsors)
			s.GET("/buttons/:id", stats.Button)
			s.GET("/sections", stats.Sections)
		}

		f := api.Group("/feeds/:feed")
		{
			f.GET("/stream", feeds.Stream)
			f.GET("/ws", feeds.WebSocket)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/dashboard", dash.Snapshot)
			admin.GET("/dashboard/stream", dash.Stream)
			admin.GET("/events/counts", analytics.GetEventCountsOverTime)
			admin.GET("/events/visitors", analytics.GetUniqueVisitorsOverTime)
			admin.GET("/events/top", analytics.GetTopEvents)
			admin.GET("/events/paths", analytics.GetTopNPagePaths)
		}
	}
	return r
}
