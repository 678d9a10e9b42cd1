package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

var ErrNotFound = errors.New("document not found")

// DocumentStore is the persistence surface used by the tracker and the live feeds.
// Every write is atomic per document only.
type DocumentStore interface {
	// Append creates a document with a store-assigned id and creation time.
	Append(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Accumulate creates collection/id from acc.Defaults plus acc.Increments when
	// absent, otherwise adds acc.Increments and overwrites acc.Set in one step.
	Accumulate(ctx context.Context, collection, id string, acc Accumulation) error
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, q Query) ([]Document, error)
}

// ChangeSource reports committed writes. fn runs on the notifier's goroutine and
// must not block.
type ChangeSource interface {
	Watch(fn func(Change)) (stop func())
}

type Store interface {
	DocumentStore
	ChangeSource
}

type Document struct {
	ID         string
	Collection string
	Seq        int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Fields     map[string]any
}

type serverTimestamp struct{}

func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return nil, errors.New("store: unresolved server timestamp")
}

// ServerTimestamp is replaced with the store clock at write time.
var ServerTimestamp any = serverTimestamp{}

type Accumulation struct {
	Increments map[string]int64
	Set        map[string]any
	// Defaults are written only when the document is created.
	Defaults map[string]any
}

type Order int

const (
	Ascending Order = iota
	Descending
)

// Query selects a collection ordered by creation time. Limit 0 means no cap.
type Query struct {
	Collection string
	Order      Order
	Limit      int
}

// Change identifies a committed write. An empty Collection means any collection
// may have changed.
type Change struct {
	Collection string
	DocumentID string
}

func (c Change) Touches(collection string) bool {
	return c.Collection == "" || c.Collection == collection
}

// applyAccumulation returns the merged field set. existing is nil when the
// document does not exist yet.
func applyAccumulation(existing map[string]any, acc Accumulation, now time.Time) map[string]any {
	var out map[string]any
	if existing == nil {
		out = resolveFields(acc.Defaults, now)
	} else {
		out = cloneFields(existing)
	}
	for k, v := range acc.Set {
		out[k] = resolveValue(v, now)
	}
	for k, delta := range acc.Increments {
		cur, _ := toInt64(out[k])
		out[k] = cur + delta
	}
	return out
}

func resolveFields(fields map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case map[string]any:
		return resolveFields(t, now)
	default:
		return v
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if m, ok := v.(map[string]any); ok {
			v = cloneFields(m)
		}
		out[k] = v
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		if err != nil {
			f, ferr := strconv.ParseFloat(fmt.Sprint(n), 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	}
	return 0, false
}

// Int returns a numeric field, 0 when missing or not a number.
func (d Document) Int(field string) int64 {
	n, _ := toInt64(d.Fields[field])
	return n
}

func (d Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Time returns a timestamp field, nil when missing or unparsable.
func (d Document) Time(field string) *time.Time {
	switch t := d.Fields[field].(type) {
	case time.Time:
		return &t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		return &parsed
	}
	return nil
}

// Decode copies the fields into v through JSON. The document id is exposed as
// "id" unless the fields already carry one.
func (d Document) Decode(v any) error {
	fields := make(map[string]any, len(d.Fields)+1)
	for k, val := range d.Fields {
		fields[k] = val
	}
	if _, ok := fields["id"]; !ok {
		fields["id"] = d.ID
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", d.Collection, d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

func sortDocuments(docs []Document, order Order) {
	before := func(a, b Document) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.Seq < b.Seq
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if order == Descending {
			return before(docs[j], docs[i])
		}
		return before(docs[i], docs[j])
	})
}

type watcherSet struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Change)
}

func (w *watcherSet) add(fn func(Change)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(Change))
	}
	id := w.next
	w.next++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

func (w *watcherSet) notify(c Change) {
	w.mu.Lock()
	fns := make([]func(Change), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
