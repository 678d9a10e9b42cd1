package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pledgesite/api/logging"
	"pledgesite/api/models"
	"pledgesite/api/store"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

const waitFor = 2 * time.Second

// recv waits for the next value on ch or fails the test.
func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

// recvUntil drains ch until match returns true.
func recvUntil[T any](t *testing.T, ch <-chan T, match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case v := <-ch:
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching delivery")
		}
	}
}

func addComment(t *testing.T, s store.DocumentStore, nickname, content string) {
	t.Helper()
	_, err := s.Append(context.Background(), models.CollectionComments, map[string]any{
		"nickname":  nickname,
		"content":   content,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	s := store.NewMemoryStore()
	addComment(t, s, "Alice", "first")
	hub := NewHub(s)

	got := make(chan []models.Comment, 4)
	cancel := hub.Comments(func(c []models.Comment) { got <- c }, nil)
	defer cancel()

	comments := recv(t, got)
	if len(comments) != 1 || comments[0].Content != "first" || comments[0].ID == "" {
		t.Fatalf("initial snapshot = %+v", comments)
	}
}

func TestCommentsNewestFirstSponsorsOldestFirst(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	s := store.NewMemoryStore().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	})
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		addComment(t, s, name, name)
		if _, err := s.Append(ctx, models.CollectionSponsors, map[string]any{
			"name": name, "planName": "p", "planPrice": 500, "createdAt": store.ServerTimestamp,
		}); err != nil {
			t.Fatal(err)
		}
	}
	hub := NewHub(s)

	comments := make(chan []models.Comment, 1)
	cancelC := hub.Comments(func(c []models.Comment) { comments <- c }, nil)
	defer cancelC()
	sponsors := make(chan []models.Sponsor, 1)
	cancelS := hub.Sponsors(func(v []models.Sponsor) { sponsors <- v }, nil)
	defer cancelS()

	c := recv(t, comments)
	if len(c) != 3 || c[0].Nickname != "c" || c[2].Nickname != "a" {
		t.Errorf("comments order = %+v", c)
	}
	sp := recv(t, sponsors)
	if len(sp) != 3 || sp[0].Name != "a" || sp[2].Name != "c" {
		t.Errorf("sponsors order = %+v", sp)
	}
}

func TestSubscribeRedeliversOnChange(t *testing.T) {
	s := store.NewMemoryStore()
	hub := NewHub(s)

	got := make(chan []models.Comment, 16)
	cancel := hub.Comments(func(c []models.Comment) { got <- c }, nil)
	defer cancel()

	if initial := recv(t, got); len(initial) != 0 {
		t.Fatalf("initial = %+v", initial)
	}
	addComment(t, s, "", "hello")

	c := recvUntil(t, got, func(c []models.Comment) bool { return len(c) == 1 })
	if c[0].Nickname != models.AnonymousCommenter {
		t.Errorf("empty nickname read as %q", c[0].Nickname)
	}
}

func TestCancelStopsDeliveries(t *testing.T) {
	s := store.NewMemoryStore()
	hub := NewHub(s)

	var mu sync.Mutex
	calls := 0
	first := make(chan struct{}, 1)
	cancel := hub.Comments(func([]models.Comment) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case first <- struct{}{}:
		default:
		}
	}, nil)
	recv(t, first)

	cancel()
	cancel()
	addComment(t, s, "Alice", "after cancel")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestDeliveriesAreSerial(t *testing.T) {
	s := store.NewMemoryStore()
	hub := NewHub(s)

	var mu sync.Mutex
	active, maxActive := 0, 0
	lengths := make(chan int, 64)
	cancel := hub.Comments(func(c []models.Comment) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		lengths <- len(c)
	}, nil)
	defer cancel()

	for i := 0; i < 10; i++ {
		addComment(t, s, "n", "c")
	}
	recvUntil(t, lengths, func(n int) bool { return n == 10 })

	mu.Lock()
	defer mu.Unlock()
	if maxActive != 1 {
		t.Errorf("max concurrent callbacks = %d, want 1", maxActive)
	}
}

func TestUnrelatedChangesDoNotRedeliver(t *testing.T) {
	s := store.NewMemoryStore()
	hub := NewHub(s)
	ctx := context.Background()

	funnel := make(chan models.FunnelStats, 8)
	cancelF := hub.FunnelStats(func(f models.FunnelStats) { funnel <- f }, nil)
	defer cancelF()
	recv(t, funnel)

	buttons := make(chan *models.ButtonStats, 8)
	cancelB := hub.ButtonStats("plan-500", func(b *models.ButtonStats) { buttons <- b }, nil)
	defer cancelB()
	recv(t, buttons)

	addComment(t, s, "a", "b")
	for i := 0; i < 5; i++ {
		if err := s.Accumulate(ctx, models.CollectionStats, models.StatsVisitors, store.Accumulation{
			Increments: map[string]int64{"totalVisits": 1},
		}); err != nil {
			t.Fatal(err)
		}
		if err := s.Accumulate(ctx, models.CollectionButtonStats, "share-line", store.Accumulation{
			Increments: map[string]int64{"clicks": 1},
		}); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case f := <-funnel:
		t.Errorf("funnel redelivered after sibling writes: %+v", f)
	case b := <-buttons:
		t.Errorf("plan-500 redelivered after sibling writes: %+v", b)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTargetAffectedBy(t *testing.T) {
	funnel := Document(models.CollectionStats, models.StatsFunnel)
	comments := Collection(models.CollectionComments, store.Descending, 0)

	tests := []struct {
		name   string
		target Target
		change store.Change
		want   bool
	}{
		{"same document", funnel, store.Change{Collection: models.CollectionStats, DocumentID: models.StatsFunnel}, true},
		{"sibling document", funnel, store.Change{Collection: models.CollectionStats, DocumentID: models.StatsVisitors}, false},
		{"collection without id", funnel, store.Change{Collection: models.CollectionStats}, true},
		{"reconnect wildcard", funnel, store.Change{}, true},
		{"other collection", funnel, store.Change{Collection: models.CollectionComments, DocumentID: models.StatsFunnel}, false},
		{"collection target any document", comments, store.Change{Collection: models.CollectionComments, DocumentID: "c1"}, true},
		{"collection target other collection", comments, store.Change{Collection: models.CollectionSponsors, DocumentID: "s1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.target.affectedBy(tt.change); got != tt.want {
				t.Errorf("affectedBy(%+v) = %v, want %v", tt.change, got, tt.want)
			}
		})
	}
}

func TestSingletonDefaults(t *testing.T) {
	s := store.NewMemoryStore()
	hub := NewHub(s)

	visitors := make(chan models.VisitorStats, 1)
	cancelV := hub.VisitorStats(func(v models.VisitorStats) { visitors <- v }, nil)
	defer cancelV()
	if v := recv(t, visitors); v.TotalVisits != 0 || v.LastVisit != nil {
		t.Errorf("missing visitor stats = %+v", v)
	}

	buttons := make(chan *models.ButtonStats, 4)
	cancelB := hub.ButtonStats("cta", func(b *models.ButtonStats) { buttons <- b }, nil)
	defer cancelB()
	if b := recv(t, buttons); b != nil {
		t.Errorf("missing button stats = %+v, want nil", b)
	}

	err := s.Accumulate(context.Background(), models.CollectionButtonStats, "cta", store.Accumulation{
		Increments: map[string]int64{"clicks": 1},
		Set:        map[string]any{"lastClick": store.ServerTimestamp},
		Defaults:   map[string]any{"buttonId": "cta", "buttonName": "贊助"},
	})
	if err != nil {
		t.Fatal(err)
	}
	b := recvUntil(t, buttons, func(b *models.ButtonStats) bool { return b != nil })
	if b.Clicks != 1 || b.ButtonName != "贊助" || b.LastClick == nil {
		t.Errorf("button stats = %+v", b)
	}
}

// brokenStore fails every read.
type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) List(context.Context, store.Query) ([]store.Document, error) {
	return nil, errors.New("permission denied")
}

func TestReadErrorsGoToOnError(t *testing.T) {
	hub := NewHub(brokenStore{store.NewMemoryStore()})

	errs := make(chan error, 1)
	called := make(chan struct{}, 1)
	cancel := hub.Comments(func([]models.Comment) { called <- struct{}{} }, func(err error) { errs <- err })
	defer cancel()

	if err := recv(t, errs); err == nil {
		t.Fatal("expected an error")
	}
	select {
	case <-called:
		t.Error("snapshot callback invoked with fallback data")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSearchVisitorsLimit(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, models.CollectionSearchVisitors, map[string]any{
			"searchEngine": "Google", "referrer": "https://google.com", "timestamp": store.ServerTimestamp,
			"possibleKeywords": []string{"禁忌之美"},
		}); err != nil {
			t.Fatal(err)
		}
	}
	hub := NewHub(s)

	got := make(chan []models.SearchVisitorEvent, 1)
	cancel := hub.SearchVisitors(3, func(v []models.SearchVisitorEvent) { got <- v }, nil)
	defer cancel()

	v := recv(t, got)
	if len(v) != 3 || v[0].SearchEngine != "Google" || len(v[0].PossibleKeywords) != 1 {
		t.Errorf("search visitors = %+v", v)
	}
}

func TestLoadReads(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	hub := NewHub(s)

	if v := hub.LoadVisitorStats(ctx); v.TotalVisits != 0 {
		t.Errorf("missing visitor stats = %+v", v)
	}
	if b := hub.LoadButtonStats(ctx, "cta"); b != nil {
		t.Errorf("missing button stats = %+v", b)
	}

	if err := s.Accumulate(ctx, models.CollectionStats, models.StatsSponsors, store.Accumulation{
		Increments: map[string]int64{"totalSponsors": 2, "totalAmount": 2000},
	}); err != nil {
		t.Fatal(err)
	}
	if got := hub.LoadSponsorStats(ctx); got.TotalSponsors != 2 || got.TotalAmount != 2000 {
		t.Errorf("sponsor stats = %+v", got)
	}

	if _, err := s.Append(ctx, models.CollectionSponsors, map[string]any{"planName": "p", "planPrice": 500}); err != nil {
		t.Fatal(err)
	}
	sponsors, err := hub.LoadSponsors(ctx)
	if err != nil || len(sponsors) != 1 || sponsors[0].Name != models.AnonymousSponsor {
		t.Errorf("LoadSponsors() = %+v, %v", sponsors, err)
	}

	broken := NewHub(brokenStore{store.NewMemoryStore()})
	if _, err := broken.LoadComments(ctx); err == nil {
		t.Error("LoadComments() should surface list errors")
	}
	if got := broken.LoadSectionStats(ctx); got == nil || len(got) != 0 {
		t.Errorf("LoadSectionStats() on failure = %+v", got)
	}
}
