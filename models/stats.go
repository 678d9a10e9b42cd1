package models

import "time"

// VisitorStats is the stats/visitors singleton.
type VisitorStats struct {
	TotalVisits int64      `json:"totalVisits"`
	LastVisit   *time.Time `json:"lastVisit"`
}

// SearchVisitorStats is the stats/searchVisitors singleton. Per-engine counters are
// named "from" + engine name.
type SearchVisitorStats struct {
	Total          int64      `json:"total"`
	FromGoogle     int64      `json:"fromGoogle"`
	FromBing       int64      `json:"fromBing"`
	FromYahoo      int64      `json:"fromYahoo"`
	FromDuckDuckGo int64      `json:"fromDuckDuckGo"`
	FromBaidu      int64      `json:"fromBaidu"`
	LastVisit      *time.Time `json:"lastVisit"`
}

// EngineCounterField returns the stats field counting visits from engine.
func EngineCounterField(engine string) string {
	return "from" + engine
}

type ButtonStats struct {
	ButtonID   string     `json:"buttonId"`
	ButtonName string     `json:"buttonName"`
	Clicks     int64      `json:"clicks"`
	LastClick  *time.Time `json:"lastClick"`
}

type SectionStats struct {
	SectionID string     `json:"sectionId"`
	Views     int64      `json:"views"`
	LastView  *time.Time `json:"lastView"`
}

// FunnelStats holds one counter per funnel step.
type FunnelStats struct {
	PageView      int64      `json:"page_view"`
	ScrollToPlans int64      `json:"scroll_to_plans"`
	ClickPlan     int64      `json:"click_plan"`
	OpenModal     int64      `json:"open_modal"`
	SubmitSponsor int64      `json:"submit_sponsor"`
	LastUpdate    *time.Time `json:"lastUpdate,omitempty"`
}

// Count returns the counter for step.
func (f FunnelStats) Count(step FunnelStep) int64 {
	switch step {
	case StepPageView:
		return f.PageView
	case StepScrollToPlans:
		return f.ScrollToPlans
	case StepClickPlan:
		return f.ClickPlan
	case StepOpenModal:
		return f.OpenModal
	case StepSubmitSponsor:
		return f.SubmitSponsor
	}
	return 0
}

type SponsorStats struct {
	TotalSponsors int64      `json:"totalSponsors"`
	TotalAmount   int64      `json:"totalAmount"`
	LastSponsor   *time.Time `json:"lastSponsor"`
}
