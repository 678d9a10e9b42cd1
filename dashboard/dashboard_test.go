package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"pledgesite/api/feed"
	"pledgesite/api/logging"
	"pledgesite/api/models"
	"pledgesite/api/store"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

const (
	uaIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaIPad    = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"
	uaWinEdge = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0"
	uaWinFF   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0"
	uaMacSafe = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	uaLinuxCh = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	uaTablet  = "Mozilla/5.0 (Linux; Tablet; rv:120.0) Gecko/120.0 Firefox/120.0"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		device  string
		browser string
		os      string
	}{
		{"iphone safari", uaIPhone, DeviceMobile, "Safari", "iOS"},
		// iPad UAs carry "Mobile" and are checked against Mobile first.
		{"ipad", uaIPad, DeviceMobile, "Safari", "iOS"},
		{"android chrome", uaAndroid, DeviceMobile, "Chrome", "Android"},
		{"windows edge", uaWinEdge, DeviceDesktop, "Edge", "Windows"},
		{"windows firefox", uaWinFF, DeviceDesktop, "Firefox", "Windows"},
		{"mac safari", uaMacSafe, DeviceDesktop, "Safari", "macOS"},
		{"linux chrome", uaLinuxCh, DeviceDesktop, "Chrome", "Linux"},
		{"tablet", uaTablet, DeviceTablet, "Firefox", "Linux"},
		{"empty", "", DeviceDesktop, Other, Other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDevice(tt.ua); got != tt.device {
				t.Errorf("ClassifyDevice() = %q, want %q", got, tt.device)
			}
			if got := ClassifyBrowser(tt.ua); got != tt.browser {
				t.Errorf("ClassifyBrowser() = %q, want %q", got, tt.browser)
			}
			if got := ClassifyOS(tt.ua); got != tt.os {
				t.Errorf("ClassifyOS() = %q, want %q", got, tt.os)
			}
		})
	}
}

func TestPlanStatistics(t *testing.T) {
	sponsors := []models.Sponsor{
		{PlanName: "微光信札", PlanPrice: 500},
		{PlanName: "創作之鑰", PlanPrice: 1500},
		{PlanName: "劇場導覽體驗", PlanPrice: 3000},
	}
	if got := TotalSponsorAmount(sponsors); got != 5000 {
		t.Errorf("TotalSponsorAmount() = %d, want 5000", got)
	}

	stats := PlanStatistics(sponsors)
	if len(stats) != 3 {
		t.Fatalf("PlanStatistics() = %+v, want 3 groups", stats)
	}
	for _, s := range stats {
		if s.Count != 1 {
			t.Errorf("group %q count = %d, want 1", s.PlanName, s.Count)
		}
	}
	if stats[0].PlanName != "劇場導覽體驗" {
		t.Errorf("largest group first, got %q", stats[0].PlanName)
	}

	grouped := PlanStatistics(append(sponsors, models.Sponsor{PlanName: "微光信札", PlanPrice: 500}))
	for _, s := range grouped {
		if s.PlanName == "微光信札" && (s.Count != 2 || s.Amount != 1000) {
			t.Errorf("grouped plan = %+v", s)
		}
	}
}

func TestFunnelConversion(t *testing.T) {
	tests := []struct {
		name        string
		stats       models.FunnelStats
		wantRates   []int
		wantShares  []int
		wantOverall int
	}{
		{
			name:        "all zero",
			stats:       models.FunnelStats{},
			wantRates:   []int{0, 0, 0, 0, 0},
			wantShares:  []int{0, 0, 0, 0, 0},
			wantOverall: 0,
		},
		{
			name:        "typical",
			stats:       models.FunnelStats{PageView: 200, ScrollToPlans: 120, ClickPlan: 30, OpenModal: 20, SubmitSponsor: 3},
			wantRates:   []int{100, 60, 25, 67, 15},
			wantShares:  []int{100, 60, 15, 10, 2},
			wantOverall: 2,
		},
		{
			name:        "zero previous step",
			stats:       models.FunnelStats{PageView: 10, ScrollToPlans: 0, ClickPlan: 4},
			wantRates:   []int{100, 0, 0, 0, 0},
			wantShares:  []int{100, 0, 40, 0, 0},
			wantOverall: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := FunnelConversion(tt.stats)
			if len(conv.Steps) != len(models.FunnelSteps) {
				t.Fatalf("steps = %d", len(conv.Steps))
			}
			for i, s := range conv.Steps {
				if s.Step != models.FunnelSteps[i] {
					t.Errorf("step %d = %q", i, s.Step)
				}
				if s.Rate != tt.wantRates[i] || s.ShareOfTotal != tt.wantShares[i] {
					t.Errorf("%s rate/share = %d/%d, want %d/%d", s.Step, s.Rate, s.ShareOfTotal, tt.wantRates[i], tt.wantShares[i])
				}
			}
			if conv.Overall != tt.wantOverall {
				t.Errorf("Overall = %d, want %d", conv.Overall, tt.wantOverall)
			}
		})
	}
}

func TestTopButtons(t *testing.T) {
	stats := []models.ButtonStats{
		{ButtonID: "b", Clicks: 3},
		{ButtonID: "a", Clicks: 3},
		{ButtonID: "c", Clicks: 10},
		{ButtonID: "d", Clicks: 1},
	}
	top := TopButtons(stats, 3)
	want := []string{"c", "a", "b"}
	if len(top) != len(want) {
		t.Fatalf("TopButtons() = %+v", top)
	}
	for i, id := range want {
		if top[i].ButtonID != id {
			t.Errorf("TopButtons()[%d] = %q, want %q", i, top[i].ButtonID, id)
		}
	}
	if stats[0].ButtonID != "b" {
		t.Error("TopButtons() reordered its input")
	}
	if all := TopButtons(stats, 0); len(all) != 4 {
		t.Errorf("TopButtons(0) = %d buttons, want 4", len(all))
	}
}

func TestDistribution(t *testing.T) {
	visitors := []models.VisitorEvent{{UserAgent: uaIPhone}, {UserAgent: uaAndroid}, {UserAgent: uaWinFF}}
	devices := DeviceDistribution(visitors)
	if len(devices) != 2 || devices[0].Label != DeviceMobile || devices[0].Count != 2 || devices[0].Percent != 67 {
		t.Errorf("DeviceDistribution() = %+v", devices)
	}
	if got := DeviceDistribution(nil); len(got) != 0 {
		t.Errorf("empty distribution = %+v", got)
	}
}

func TestKeywordAndVisitorTypeDistribution(t *testing.T) {
	keywords := KeywordDistribution([]models.SearchKeywordEvent{
		{Keyword: "禁忌之美"}, {Keyword: "鍾佳播電影"}, {Keyword: "禁忌之美"}, {Keyword: ""},
	})
	if len(keywords) != 2 || keywords[0].Label != "禁忌之美" || keywords[0].Count != 2 || keywords[0].Percent != 67 {
		t.Errorf("KeywordDistribution() = %+v", keywords)
	}

	types := VisitorTypeDistribution([]models.FunnelEvent{
		{Step: models.StepPageView, VisitorType: models.VisitorNew},
		{Step: models.StepPageView, VisitorType: models.VisitorReturning},
		{Step: models.StepPageView, VisitorType: models.VisitorNew},
		{Step: models.StepPageView, VisitorType: models.VisitorNew},
		{Step: models.StepClickPlan, VisitorType: models.VisitorReturning},
	})
	want := []Bucket{
		{Label: string(models.VisitorNew), Count: 3, Percent: 75},
		{Label: string(models.VisitorReturning), Count: 1, Percent: 25},
	}
	if len(types) != len(want) {
		t.Fatalf("VisitorTypeDistribution() = %+v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("VisitorTypeDistribution()[%d] = %+v, want %+v", i, types[i], want[i])
		}
	}
}

func TestAggregatorEventFeeds(t *testing.T) {
	s := store.NewMemoryStore()
	agg := NewAggregator(feed.NewHub(s), Options{})

	initial := agg.Snapshot()
	if initial.RecentFunnel == nil || initial.SearchKeywords == nil || initial.RecentScrolls == nil {
		t.Errorf("initial event lists must be empty, not nil: %+v", initial)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agg.Serve(ctx) }()

	updates, stop := agg.Watch()
	defer stop()

	bg := context.Background()
	for _, vt := range []models.VisitorType{models.VisitorNew, models.VisitorReturning} {
		if _, err := s.Append(bg, models.CollectionFunnel, map[string]any{
			"step": string(models.StepPageView), "timestamp": store.ServerTimestamp, "sessionId": "s", "visitorType": string(vt),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Append(bg, models.CollectionSearchKeywords, map[string]any{
		"keyword": "禁忌之美", "timestamp": store.ServerTimestamp, "referrer": "https://www.google.com/",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(bg, models.CollectionScrollDepth, map[string]any{
		"sectionId": models.SectionFundingPlans, "timestamp": store.ServerTimestamp, "sessionId": "s",
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		var snap Snapshot
		select {
		case snap = <-updates:
		case <-deadline:
			t.Fatalf("event feeds never arrived, last = %+v", agg.Snapshot())
		}
		if len(snap.VisitorTypes) == 2 && len(snap.TopKeywords) == 1 && len(snap.RecentScrolls) == 1 {
			if snap.VisitorTypes[0].Percent != 50 || snap.TopKeywords[0].Label != "禁忌之美" {
				t.Errorf("visitorTypes = %+v, topKeywords = %+v", snap.VisitorTypes, snap.TopKeywords)
			}
			if len(snap.RecentFunnel) != 2 || snap.RecentScrolls[0].SectionID != models.SectionFundingPlans {
				t.Errorf("recentFunnel = %+v, recentScrolls = %+v", snap.RecentFunnel, snap.RecentScrolls)
			}
			return
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount int64
		want   string
	}{
		{0, "NT$ 0"},
		{500, "NT$ 500"},
		{151500, "NT$ 151,500"},
		{3000000, "NT$ 3,000,000"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.amount); got != tt.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestAggregatorDefaultsAndUpdates(t *testing.T) {
	s := store.NewMemoryStore()
	agg := NewAggregator(feed.NewHub(s), Options{})

	initial := agg.Snapshot()
	if initial.TotalSponsorAmountText != "NT$ 0" || initial.Sponsors == nil || len(initial.Funnel.Steps) != 5 {
		t.Errorf("initial snapshot = %+v", initial)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Serve(ctx) }()

	updates, stop := agg.Watch()
	defer stop()

	for _, plan := range models.FundingPlans[:3] {
		if _, err := s.Append(context.Background(), models.CollectionSponsors, map[string]any{
			"name": "n", "planName": plan.Name, "planPrice": plan.Price, "createdAt": store.ServerTimestamp,
		}); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		var snap Snapshot
		select {
		case snap = <-updates:
		case <-deadline:
			t.Fatalf("snapshot never reached 5000, last = %d", agg.Snapshot().TotalSponsorAmount)
		}
		if snap.TotalSponsorAmount == 5000 {
			if len(snap.Plans) != 3 {
				t.Errorf("plans = %+v", snap.Plans)
			}
			break
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
}
