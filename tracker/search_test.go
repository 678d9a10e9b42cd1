package tracker

import (
	"net/url"
	"testing"
)

func TestDetectSearchEngine(t *testing.T) {
	tests := []struct {
		referrer   string
		wantEngine string
		wantOK     bool
	}{
		{"https://www.google.com/search?q=x", "Google", true},
		{"https://www.google.com.tw/", "Google", true},
		{"https://www.bing.com/search?q=x", "Bing", true},
		{"https://tw.search.yahoo.com/search?p=x", "Yahoo", true},
		{"https://duckduckgo.com/?q=x", "DuckDuckGo", true},
		{"https://www.baidu.com/s?wd=x", "Baidu", true},
		{"https://example.com/", "", false},
		{"", "", false},
		// substring match, first engine in table order wins
		{"https://bing.com/?from=google.com", "Google", true},
	}
	for _, tt := range tests {
		t.Run(tt.referrer, func(t *testing.T) {
			engine, ok := DetectSearchEngine(tt.referrer)
			if engine != tt.wantEngine || ok != tt.wantOK {
				t.Errorf("DetectSearchEngine(%q) = %q, %v; want %q, %v", tt.referrer, engine, ok, tt.wantEngine, tt.wantOK)
			}
		})
	}
}

func TestSearchKeyword(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"q wins", "q=a&keyword=b&utm_term=c", "a"},
		{"keyword before utm_term", "keyword=b&utm_term=c", "b"},
		{"utm_term", "utm_term=c", "c"},
		{"empty q skipped", "q=&keyword=b", "b"},
		{"none", "page=2", ""},
		{"leading question mark", "?q=%E7%A6%81%E5%BF%8C", "禁忌"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SearchKeyword(ParseSearch(tt.query)); got != tt.want {
				t.Errorf("SearchKeyword(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestSearchKeywordNilQuery(t *testing.T) {
	var q url.Values
	if got := SearchKeyword(q); got != "" {
		t.Errorf("SearchKeyword(nil) = %q", got)
	}
}
