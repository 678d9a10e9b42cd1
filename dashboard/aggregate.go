// Package dashboard derives the admin view from live feeds. Every function here
// is pure; Aggregator recomputes all of them on each update.
package dashboard

import (
	"math"
	"sort"

	"pledgesite/api/models"
)

func TotalSponsorAmount(sponsors []models.Sponsor) int64 {
	var total int64
	for _, s := range sponsors {
		total += s.PlanPrice
	}
	return total
}

type PlanStat struct {
	PlanName string `json:"planName"`
	Count    int    `json:"count"`
	Amount   int64  `json:"amount"`
}

// PlanStatistics groups sponsors by plan name, largest amount first.
func PlanStatistics(sponsors []models.Sponsor) []PlanStat {
	byName := make(map[string]*PlanStat)
	for _, s := range sponsors {
		p, ok := byName[s.PlanName]
		if !ok {
			p = &PlanStat{PlanName: s.PlanName}
			byName[s.PlanName] = p
		}
		p.Count++
		p.Amount += s.PlanPrice
	}

	out := make([]PlanStat, 0, len(byName))
	for _, p := range byName {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].PlanName < out[j].PlanName
	})
	return out
}

// Bucket is one bar of a distribution.
type Bucket struct {
	Label   string `json:"label"`
	Count   int    `json:"count"`
	Percent int    `json:"percent"`
}

func DeviceDistribution(visitors []models.VisitorEvent) []Bucket {
	return distribution(visitors, ClassifyDevice)
}

func BrowserDistribution(visitors []models.VisitorEvent) []Bucket {
	return distribution(visitors, ClassifyBrowser)
}

func OSDistribution(visitors []models.VisitorEvent) []Bucket {
	return distribution(visitors, ClassifyOS)
}

func distribution(visitors []models.VisitorEvent, classifier func(string) string) []Bucket {
	labels := make([]string, len(visitors))
	for i, v := range visitors {
		labels[i] = classifier(v.UserAgent)
	}
	return buckets(labels)
}

// KeywordDistribution counts search keywords. Blank keywords are not counted.
func KeywordDistribution(keywords []models.SearchKeywordEvent) []Bucket {
	labels := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k.Keyword != "" {
			labels = append(labels, k.Keyword)
		}
	}
	return buckets(labels)
}

// VisitorTypeDistribution splits page_view funnel events into new and returning.
func VisitorTypeDistribution(events []models.FunnelEvent) []Bucket {
	labels := make([]string, 0, len(events))
	for _, e := range events {
		if e.Step == models.StepPageView && e.VisitorType != "" {
			labels = append(labels, string(e.VisitorType))
		}
	}
	return buckets(labels)
}

func buckets(labels []string) []Bucket {
	counts := make(map[string]int)
	for _, l := range labels {
		counts[l]++
	}

	out := make([]Bucket, 0, len(counts))
	for label, n := range counts {
		out = append(out, Bucket{Label: label, Count: n, Percent: percent(int64(n), int64(len(labels)))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

type StepConversion struct {
	Step  models.FunnelStep `json:"step"`
	Count int64             `json:"count"`
	// Rate is the percentage of the previous step that reached this one. For the
	// first step it equals ShareOfTotal.
	Rate         int `json:"rate"`
	ShareOfTotal int `json:"shareOfTotal"`
}

type Conversion struct {
	Steps []StepConversion `json:"steps"`
	// Overall is submit_sponsor as a percentage of page_view.
	Overall int `json:"overall"`
}

func FunnelConversion(stats models.FunnelStats) Conversion {
	total := stats.Count(models.StepPageView)
	conv := Conversion{
		Steps:   make([]StepConversion, len(models.FunnelSteps)),
		Overall: percent(stats.Count(models.StepSubmitSponsor), total),
	}
	var prev int64
	for i, step := range models.FunnelSteps {
		n := stats.Count(step)
		sc := StepConversion{Step: step, Count: n, ShareOfTotal: percent(n, total)}
		if i == 0 {
			sc.Rate = sc.ShareOfTotal
		} else {
			sc.Rate = percent(n, prev)
		}
		conv.Steps[i] = sc
		prev = n
	}
	return conv
}

// TopButtons returns the n most clicked buttons; n <= 0 returns all of them.
func TopButtons(stats []models.ButtonStats, n int) []models.ButtonStats {
	out := append([]models.ButtonStats(nil), stats...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Clicks != out[j].Clicks {
			return out[i].Clicks > out[j].Clicks
		}
		return out[i].ButtonID < out[j].ButtonID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// percent rounds part/whole to the nearest integer percentage; 0 when whole is 0.
func percent(part, whole int64) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(whole)))
}
