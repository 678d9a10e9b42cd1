package models

import (
	"errors"
	"fmt"
)

// FunnelStep is one stage of the five-stage sponsor journey.
type FunnelStep string

const (
	StepPageView      FunnelStep = "page_view"
	StepScrollToPlans FunnelStep = "scroll_to_plans"
	StepClickPlan     FunnelStep = "click_plan"
	StepOpenModal     FunnelStep = "open_modal"
	StepSubmitSponsor FunnelStep = "submit_sponsor"
)

// FunnelSteps lists the steps in journey order.
var FunnelSteps = []FunnelStep{
	StepPageView,
	StepScrollToPlans,
	StepClickPlan,
	StepOpenModal,
	StepSubmitSponsor,
}

var ErrUnknownFunnelStep = errors.New("unknown funnel step")

// ParseFunnelStep accepts only the canonical step names.
func ParseFunnelStep(s string) (FunnelStep, error) {
	for _, step := range FunnelSteps {
		if string(step) == s {
			return step, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFunnelStep, s)
}

func (s FunnelStep) Valid() bool {
	_, err := ParseFunnelStep(string(s))
	return err == nil
}
