package models

import "time"

// Fallback display names for records written without one.
const (
	AnonymousCommenter = "匿名"
	AnonymousSponsor   = "匿名贊助者"
)

// MaxCommentLength is counted in characters, not bytes.
const MaxCommentLength = 500

type Comment struct {
	ID        string     `json:"id"`
	Nickname  string     `json:"nickname" validate:"required"`
	Content   string     `json:"content" validate:"required,max=500"`
	CreatedAt *time.Time `json:"createdAt"`
}

// Sponsor is a simulated pledge against a funding plan. No payment is involved.
type Sponsor struct {
	ID        string     `json:"id"`
	Name      string     `json:"name" validate:"required,max=100"`
	PlanName  string     `json:"planName" validate:"required"`
	PlanPrice int64      `json:"planPrice" validate:"gte=0"`
	CreatedAt *time.Time `json:"createdAt"`
}

// FundingPlan is one pledge tier shown on the landing page.
type FundingPlan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description"`
}

var FundingPlans = []FundingPlan{
	{ID: "plan-500", Name: "微光信札", Price: 500, Description: "專屬導演簽名明信片"},
	{ID: "plan-1500", Name: "創作之鑰", Price: 1500, Description: "幕後製作筆記電子檔（含設計發想、初稿等）"},
	{ID: "plan-3000", Name: "劇場導覽體驗", Price: 3000, Description: "線上藝術發表會入場（由導演領頭導覽導遊）"},
	{ID: "plan-10000", Name: "永恆守護者", Price: 10000, Description: "片尾「藝術守護者」名單致謝"},
	{ID: "plan-50000", Name: "至尊珍藏禮", Price: 50000, Description: "限量簽名劇照 + 專屬感謝影片"},
}

// TrackedSections is the allow-list of section ids reported by scroll tracking.
var TrackedSections = []string{
	"hero",
	"project-info",
	"funding-plans",
	"sponsors",
	"faq",
	"comments",
	"risk",
	"refund",
	"contact",
	"info",
}

// SectionFundingPlans is the section whose first view counts as scroll_to_plans.
const SectionFundingPlans = "funding-plans"

func IsTrackedSection(id string) bool {
	for _, s := range TrackedSections {
		if s == id {
			return true
		}
	}
	return false
}
