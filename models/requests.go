package models

// Request bodies accepted by the HTTP API.

type VisitRequest struct {
	UserAgent    string `json:"userAgent"`
	Referrer     string `json:"referrer"`
	ScreenWidth  int    `json:"screenWidth" validate:"gte=0"`
	ScreenHeight int    `json:"screenHeight" validate:"gte=0"`
	Language     string `json:"language"`
	Path         string `json:"path"`
	Title        string `json:"title"`
	// Search is the raw query string of the landing URL, with or without "?".
	Search string `json:"search"`
}

type ButtonClickRequest struct {
	ButtonID   string `json:"buttonId" validate:"required,max=128"`
	ButtonName string `json:"buttonName" validate:"required,max=256"`
	PlanPrice  *int64 `json:"planPrice" validate:"omitempty,gte=0"`
	Section    string `json:"section" validate:"max=128"`
}

type PlanSelectionRequest struct {
	PlanName  string `json:"planName" validate:"required"`
	PlanPrice int64  `json:"planPrice" validate:"gte=0"`
}

type ShareRequest struct {
	Platform string `json:"platform" validate:"required,max=64"`
}

type ScrollDepthRequest struct {
	SectionID string `json:"sectionId" validate:"required"`
}

type FunnelStepRequest struct {
	Step     string         `json:"step" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

type CommentRequest struct {
	Nickname string `json:"nickname"`
	Content  string `json:"content"`
}

type SponsorRequest struct {
	Name      string `json:"name"`
	PlanName  string `json:"planName"`
	PlanPrice int64  `json:"planPrice"`
}
