package tracker

import (
	"net/url"
	"strings"
)

type searchEngine struct {
	name     string
	patterns []string
}

// Checked in order; the first engine with a matching pattern wins.
var searchEngines = []searchEngine{
	{name: "Google", patterns: []string{"google.com", "google.com.tw"}},
	{name: "Bing", patterns: []string{"bing.com"}},
	{name: "Yahoo", patterns: []string{"yahoo.com", "search.yahoo.com"}},
	{name: "DuckDuckGo", patterns: []string{"duckduckgo.com"}},
	{name: "Baidu", patterns: []string{"baidu.com"}},
}

// DetectSearchEngine matches referrer against the known engine domains by substring.
func DetectSearchEngine(referrer string) (string, bool) {
	for _, engine := range searchEngines {
		for _, pattern := range engine.patterns {
			if strings.Contains(referrer, pattern) {
				return engine.name, true
			}
		}
	}
	return "", false
}

var keywordParams = []string{"q", "keyword", "utm_term"}

// SearchKeyword returns the first non-empty keyword parameter.
func SearchKeyword(query url.Values) string {
	for _, p := range keywordParams {
		if v := query.Get(p); v != "" {
			return v
		}
	}
	return ""
}

// ParseSearch parses a raw query string with or without its leading "?".
// Malformed pairs are skipped.
func ParseSearch(raw string) url.Values {
	values, _ := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	return values
}
