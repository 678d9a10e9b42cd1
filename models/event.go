package models

import (
	"time"
)

// Collection names used by the document store.
const (
	CollectionVisitors       = "visitors"
	CollectionSearchVisitors = "searchVisitors"
	CollectionSearchKeywords = "searchKeywords"
	CollectionButtonClicks   = "buttonClicks"
	CollectionScrollDepth    = "scrollDepth"
	CollectionFunnel         = "funnel"
	CollectionComments       = "comments"
	CollectionSponsors       = "sponsors"
	CollectionStats          = "stats"
	CollectionButtonStats    = "buttonStats"
	CollectionSectionStats   = "sectionStats"
)

// Singleton document ids inside CollectionStats.
const (
	StatsVisitors       = "visitors"
	StatsSearchVisitors = "searchVisitors"
	StatsSponsors       = "sponsors"
	StatsFunnel         = "funnel"
)

// DirectReferrer is stored when a visit carries no referrer.
const DirectReferrer = "direct"

// VisitorEvent is appended once per page load.
type VisitorEvent struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	UserAgent     string    `json:"userAgent"`
	Referrer      string    `json:"referrer"`
	ScreenWidth   int       `json:"screenWidth"`
	ScreenHeight  int       `json:"screenHeight"`
	Language      string    `json:"language"`
	Path          string    `json:"path"`
	IPHash        string    `json:"ipHash,omitempty"`
	SearchKeyword string    `json:"searchKeyword,omitempty"`
	SearchEngine  string    `json:"searchEngine,omitempty"`
	IsFromSearch  bool      `json:"isFromSearch"`
}

// SearchVisitorEvent is appended when the referrer belongs to a known search engine.
type SearchVisitorEvent struct {
	ID               string    `json:"id"`
	SearchEngine     string    `json:"searchEngine"`
	Referrer         string    `json:"referrer"`
	UserAgent        string    `json:"userAgent,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	PossibleKeywords []string  `json:"possibleKeywords"`
}

// SearchKeywordEvent is appended when the landing URL carries a keyword parameter.
type SearchKeywordEvent struct {
	ID        string    `json:"id"`
	Keyword   string    `json:"keyword"`
	Timestamp time.Time `json:"timestamp"`
	Referrer  string    `json:"referrer"`
}

// ButtonClickEvent is appended for every tracked click.
type ButtonClickEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ButtonID   string    `json:"buttonId"`
	ButtonName string    `json:"buttonName"`
	PlanPrice  *int64    `json:"planPrice,omitempty"`
	Section    string    `json:"section,omitempty"`
}

// ScrollDepthEvent is appended at most once per section per page instance.
type ScrollDepthEvent struct {
	ID        string    `json:"id"`
	SectionID string    `json:"sectionId"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

// FunnelEvent is appended for every funnel transition. Caller metadata is stored
// as additional top-level fields of the record.
type FunnelEvent struct {
	ID          string      `json:"id"`
	Step        FunnelStep  `json:"step"`
	Timestamp   time.Time   `json:"timestamp"`
	SessionID   string      `json:"sessionId"`
	VisitorType VisitorType `json:"visitorType"`
}

// VisitorType tells first-ever visits apart from returning ones.
type VisitorType string

const (
	VisitorNew       VisitorType = "new"
	VisitorReturning VisitorType = "returning"
)

// AnalyticsEvent is a single record sent to the analytics sink.
type AnalyticsEvent struct {
	EventID    string         `json:"eventId"`
	EventName  string         `json:"eventName"`
	SessionID  string         `json:"sessionId"`
	VisitorID  string         `json:"visitorId"`
	Timestamp  time.Time      `json:"timestamp"`
	PagePath   string         `json:"pagePath"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Analytics event names.
const (
	EventPageView     = "page_view"
	EventButtonClick  = "button_click"
	EventScrollDepth  = "scroll_depth"
	EventFunnelStep   = "funnel_step"
	EventSponsorAdded = "sponsor_added"
)

type EventCount struct {
	EventName string `json:"eventName"`
	Count     uint64 `json:"count"`
}

type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}
