package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pledgesite/api/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

// testStoreConformance exercises the DocumentStore contract against any backend.
func testStoreConformance(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("append and get", func(t *testing.T) {
		id, err := s.Append(ctx, "comments", map[string]any{
			"nickname":  "Alice",
			"content":   "Hello",
			"createdAt": ServerTimestamp,
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		doc, err := s.Get(ctx, "comments", id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if doc.String("nickname") != "Alice" {
			t.Errorf("nickname = %q", doc.String("nickname"))
		}
		if doc.Time("createdAt") == nil {
			t.Error("createdAt was not resolved to a timestamp")
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "stats", "does-not-exist")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("accumulate creates then increments", func(t *testing.T) {
		acc := Accumulation{
			Increments: map[string]int64{"clicks": 1},
			Set:        map[string]any{"lastClick": ServerTimestamp},
			Defaults:   map[string]any{"buttonId": "hero-cta", "buttonName": "Back this"},
		}
		for i := 0; i < 3; i++ {
			if err := s.Accumulate(ctx, "buttonStats", "hero-cta", acc); err != nil {
				t.Fatalf("Accumulate() error = %v", err)
			}
		}
		doc, err := s.Get(ctx, "buttonStats", "hero-cta")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got := doc.Int("clicks"); got != 3 {
			t.Errorf("clicks = %d, want 3", got)
		}
		if doc.String("buttonId") != "hero-cta" {
			t.Errorf("buttonId default missing: %v", doc.Fields)
		}
		if doc.Time("lastClick") == nil {
			t.Error("lastClick not set")
		}
	})

	t.Run("concurrent accumulate is atomic per document", func(t *testing.T) {
		const n = 40
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Accumulate(ctx, "stats", "sponsors", Accumulation{
					Increments: map[string]int64{"totalSponsors": 1, "totalAmount": 500},
				})
				if err != nil {
					t.Errorf("Accumulate() error = %v", err)
				}
			}()
		}
		wg.Wait()
		doc, err := s.Get(ctx, "stats", "sponsors")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if doc.Int("totalSponsors") != n || doc.Int("totalAmount") != n*500 {
			t.Errorf("totals = %d/%d, want %d/%d", doc.Int("totalSponsors"), doc.Int("totalAmount"), n, n*500)
		}
	})

	t.Run("list orders by creation", func(t *testing.T) {
		for _, name := range []string{"first", "second", "third"} {
			if _, err := s.Append(ctx, "sponsors", map[string]any{"name": name}); err != nil {
				t.Fatal(err)
			}
		}
		asc, err := s.List(ctx, Query{Collection: "sponsors", Order: Ascending})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if got := names(asc); got != "first,second,third" {
			t.Errorf("ascending = %s", got)
		}
		desc, err := s.List(ctx, Query{Collection: "sponsors", Order: Descending, Limit: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if got := names(desc); got != "third,second" {
			t.Errorf("descending limit 2 = %s", got)
		}
	})
}

func names(docs []Document) string {
	out := ""
	for i, d := range docs {
		if i > 0 {
			out += ","
		}
		out += d.String("name")
	}
	return out
}

func TestMemoryStoreConformance(t *testing.T) {
	testStoreConformance(t, NewMemoryStore())
}

func TestMemoryStoreOrderTieBreak(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return fixed })
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.Append(ctx, "sponsors", map[string]any{"name": name}); err != nil {
			t.Fatal(err)
		}
	}
	asc, _ := s.List(ctx, Query{Collection: "sponsors", Order: Ascending})
	if got := names(asc); got != "a,b,c" {
		t.Errorf("ascending with equal timestamps = %s", got)
	}
	desc, _ := s.List(ctx, Query{Collection: "sponsors", Order: Descending})
	if got := names(desc); got != "c,b,a" {
		t.Errorf("descending with equal timestamps = %s", got)
	}
}

func TestMemoryStoreWatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var mu sync.Mutex
	var changes []Change
	stop := s.Watch(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	id, _ := s.Append(ctx, "comments", map[string]any{"content": "hi"})
	_ = s.Accumulate(ctx, "stats", "visitors", Accumulation{Increments: map[string]int64{"totalVisits": 1}})
	stop()
	stop()
	_, _ = s.Append(ctx, "comments", map[string]any{"content": "after stop"})

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %v", len(changes), changes)
	}
	if changes[0] != (Change{Collection: "comments", DocumentID: id}) {
		t.Errorf("first change = %+v", changes[0])
	}
	if changes[1] != (Change{Collection: "stats", DocumentID: "visitors"}) {
		t.Errorf("second change = %+v", changes[1])
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Accumulate(ctx, "stats", "funnel", Accumulation{Increments: map[string]int64{"page_view": 1}})

	doc, _ := s.Get(ctx, "stats", "funnel")
	doc.Fields["page_view"] = int64(99)

	again, _ := s.Get(ctx, "stats", "funnel")
	if again.Int("page_view") != 1 {
		t.Errorf("stored document was mutated through a returned copy: %v", again.Fields)
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Append(ctx, "visitors", map[string]any{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Append() error = %v, want context.Canceled", err)
	}
}

func TestApplyAccumulation(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	created := applyAccumulation(nil, Accumulation{
		Increments: map[string]int64{"views": 1},
		Set:        map[string]any{"lastView": ServerTimestamp},
		Defaults:   map[string]any{"sectionId": "faq"},
	}, now)
	if created["views"] != int64(1) || created["sectionId"] != "faq" || created["lastView"] != now {
		t.Errorf("created = %v", created)
	}

	updated := applyAccumulation(map[string]any{"views": float64(4), "sectionId": "faq"}, Accumulation{
		Increments: map[string]int64{"views": 2},
		Defaults:   map[string]any{"sectionId": "ignored"},
	}, now)
	if updated["views"] != int64(6) || updated["sectionId"] != "faq" {
		t.Errorf("updated = %v", updated)
	}
}

func TestDocumentDecode(t *testing.T) {
	created := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	doc := Document{
		ID:         "c1",
		Collection: "comments",
		Fields: map[string]any{
			"nickname":  "Bob",
			"content":   "Nice",
			"createdAt": created,
		},
	}
	var out struct {
		ID        string     `json:"id"`
		Nickname  string     `json:"nickname"`
		CreatedAt *time.Time `json:"createdAt"`
	}
	if err := doc.Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.ID != "c1" || out.Nickname != "Bob" || out.CreatedAt == nil || !out.CreatedAt.Equal(created) {
		t.Errorf("decoded = %+v", out)
	}
}

func TestChangeTouches(t *testing.T) {
	if !(Change{}).Touches("comments") {
		t.Error("wildcard change should touch every collection")
	}
	if (Change{Collection: "sponsors"}).Touches("comments") {
		t.Error("sponsors change should not touch comments")
	}
}
