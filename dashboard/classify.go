package dashboard

import "strings"

const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"

	Other = "Other"
)

// uaRule matches when the user agent contains any of include and none of exclude.
type uaRule struct {
	label   string
	include []string
	exclude []string
}

func (r uaRule) matches(ua string) bool {
	for _, ex := range r.exclude {
		if strings.Contains(ua, ex) {
			return false
		}
	}
	for _, in := range r.include {
		if strings.Contains(ua, in) {
			return true
		}
	}
	return false
}

func classify(ua string, rules []uaRule, fallback string) string {
	for _, r := range rules {
		if r.matches(ua) {
			return r.label
		}
	}
	return fallback
}

// Mobile is checked before Tablet, so an iPad UA containing "Mobile" counts as Mobile.
var deviceRules = []uaRule{
	{label: DeviceMobile, include: []string{"Mobile", "Android", "iPhone"}},
	{label: DeviceTablet, include: []string{"Tablet", "iPad"}},
}

var browserRules = []uaRule{
	{label: "Edge", include: []string{"Edg"}},
	{label: "Opera", include: []string{"OPR", "Opera"}},
	{label: "Firefox", include: []string{"Firefox", "FxiOS"}},
	{label: "Chrome", include: []string{"Chrome", "CriOS"}, exclude: []string{"Edg", "OPR"}},
	{label: "Safari", include: []string{"Safari"}, exclude: []string{"Chrome", "CriOS", "Android"}},
}

// iOS and Android come first: their UAs also carry "Mac OS X" and "Linux".
var osRules = []uaRule{
	{label: "iOS", include: []string{"iPhone", "iPad", "iPod"}},
	{label: "Android", include: []string{"Android"}},
	{label: "Windows", include: []string{"Windows"}},
	{label: "macOS", include: []string{"Macintosh", "Mac OS"}},
	{label: "Linux", include: []string{"Linux", "X11"}},
}

func ClassifyDevice(userAgent string) string {
	return classify(userAgent, deviceRules, DeviceDesktop)
}

func ClassifyBrowser(userAgent string) string {
	return classify(userAgent, browserRules, Other)
}

func ClassifyOS(userAgent string) string {
	return classify(userAgent, osRules, Other)
}
