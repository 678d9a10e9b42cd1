// Package feed delivers live snapshots of collections and single documents.
//
// A subscription gets the current snapshot right away and a fresh one after
// every committed change touching its collection, until it is cancelled:
//
//	cancel := hub.Subscribe(feed.Collection("comments", store.Descending, 0),
//		func(s feed.Snapshot) { render(s.Documents) },
//		func(err error) { showEmpty() })
//	defer cancel()
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pledgesite/api/logging"
	"pledgesite/api/metrics"
	"pledgesite/api/store"
)

// Target is either a whole collection (DocumentID empty) or one document.
type Target struct {
	Collection string
	DocumentID string
	Order      store.Order
	Limit      int
}

func Collection(name string, order store.Order, limit int) Target {
	return Target{Collection: name, Order: order, Limit: limit}
}

func Document(collection, id string) Target {
	return Target{Collection: collection, DocumentID: id}
}

// affectedBy reports whether c may change what t reads. A change without a
// document id is a wildcard for its collection.
func (t Target) affectedBy(c store.Change) bool {
	if !c.Touches(t.Collection) {
		return false
	}
	return t.DocumentID == "" || c.DocumentID == "" || c.DocumentID == t.DocumentID
}

func (t Target) String() string {
	if t.DocumentID != "" {
		return t.Collection + "/" + t.DocumentID
	}
	return t.Collection
}

// Snapshot is the state of a target at delivery time. For a document target
// Documents holds at most one entry and Exists reports whether it is present.
type Snapshot struct {
	Target    Target
	Documents []store.Document
	Exists    bool
	At        time.Time
}

// CancelFunc stops a subscription. Calling it more than once is a no-op.
type CancelFunc func()

type Hub struct {
	store store.Store
	// Timeout bounds each snapshot read.
	Timeout time.Duration
	log     zerolog.Logger
}

func NewHub(s store.Store) *Hub {
	return &Hub{
		store:   s,
		Timeout: 5 * time.Second,
		log:     logging.With("feed"),
	}
}

type subscription struct {
	target     Target
	onSnapshot func(Snapshot)
	onError    func(error)

	pending   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	stopWatch func()
	once      sync.Once
}

// Subscribe starts a subscription. onSnapshot and onError are called from one
// goroutine per subscription, never concurrently and in change order. Changes
// arriving while a delivery is running collapse into one fresh snapshot. After
// cancel returns no new delivery starts; a delivery whose read already finished
// when cancel ran may still invoke its callback once. onError may be nil.
func (h *Hub) Subscribe(target Target, onSnapshot func(Snapshot), onError func(error)) CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		target:     target,
		onSnapshot: onSnapshot,
		onError:    onError,
		pending:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	sub.pending <- struct{}{}

	sub.stopWatch = h.store.Watch(func(c store.Change) {
		if !target.affectedBy(c) {
			return
		}
		select {
		case sub.pending <- struct{}{}:
		default:
		}
	})
	metrics.FeedSubscriptions.Inc()

	go h.run(sub)

	return func() {
		sub.once.Do(func() {
			sub.cancelled.Store(true)
			sub.stopWatch()
			sub.cancel()
			metrics.FeedSubscriptions.Dec()
		})
	}
}

func (h *Hub) run(sub *subscription) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.pending:
			h.deliver(sub)
		}
	}
}

func (h *Hub) deliver(sub *subscription) {
	if sub.cancelled.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(sub.ctx, h.Timeout)
	snap, err := h.read(ctx, sub.target)
	cancel()

	if sub.cancelled.Load() {
		return
	}
	if err != nil {
		metrics.FeedErrors.WithLabelValues(sub.target.Collection).Inc()
		h.log.Error().Err(err).Str("target", sub.target.String()).Msg("live feed read failed")
		if sub.onError != nil {
			sub.onError(err)
		}
		return
	}
	metrics.FeedDeliveries.WithLabelValues(sub.target.Collection).Inc()
	sub.onSnapshot(snap)
}

func (h *Hub) read(ctx context.Context, t Target) (Snapshot, error) {
	snap := Snapshot{Target: t, At: time.Now().UTC()}

	if t.DocumentID != "" {
		doc, err := h.store.Get(ctx, t.Collection, t.DocumentID)
		if errors.Is(err, store.ErrNotFound) {
			return snap, nil
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read %s: %w", t, err)
		}
		snap.Documents = []store.Document{doc}
		snap.Exists = true
		return snap, nil
	}

	docs, err := h.store.List(ctx, store.Query{Collection: t.Collection, Order: t.Order, Limit: t.Limit})
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to list %s: %w", t, err)
	}
	snap.Documents = docs
	snap.Exists = true
	return snap, nil
}
