package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pledgesite/api/metrics"
)

// MemoryStore keeps every document in process memory. Watchers are notified after
// the write is committed and the lock is released.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Document
	seq         int64
	now         func() time.Time
	watchers    watcherSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*Document),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the store clock. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Append(ctx context.Context, collection string, fields map[string]any) (string, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		metrics.RecordStoreOperation("append", collection, time.Since(start), err)
		return "", err
	}

	id := uuid.NewString()
	s.mu.Lock()
	now := s.now()
	s.seq++
	s.collection(collection)[id] = &Document{
		ID:         id,
		Collection: collection,
		Seq:        s.seq,
		CreatedAt:  now,
		UpdatedAt:  now,
		Fields:     resolveFields(fields, now),
	}
	s.mu.Unlock()

	metrics.RecordStoreOperation("append", collection, time.Since(start), nil)
	s.watchers.notify(Change{Collection: collection, DocumentID: id})
	return id, nil
}

func (s *MemoryStore) Accumulate(ctx context.Context, collection, id string, acc Accumulation) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		metrics.RecordStoreOperation("accumulate", collection, time.Since(start), err)
		return err
	}

	s.mu.Lock()
	now := s.now()
	docs := s.collection(collection)
	if doc, ok := docs[id]; ok {
		doc.Fields = applyAccumulation(doc.Fields, acc, now)
		doc.UpdatedAt = now
	} else {
		s.seq++
		docs[id] = &Document{
			ID:         id,
			Collection: collection,
			Seq:        s.seq,
			CreatedAt:  now,
			UpdatedAt:  now,
			Fields:     applyAccumulation(nil, acc, now),
		}
	}
	s.mu.Unlock()

	metrics.RecordStoreOperation("accumulate", collection, time.Since(start), nil)
	s.watchers.notify(Change{Collection: collection, DocumentID: id})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := make([]Document, 0, len(s.collections[q.Collection]))
	for _, doc := range s.collections[q.Collection] {
		docs = append(docs, copyDocument(doc))
	}
	s.mu.RUnlock()

	sortDocuments(docs, q.Order)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (s *MemoryStore) Watch(fn func(Change)) func() {
	return s.watchers.add(fn)
}

// collection must be called with s.mu held for writing.
func (s *MemoryStore) collection(name string) map[string]*Document {
	docs, ok := s.collections[name]
	if !ok {
		docs = make(map[string]*Document)
		s.collections[name] = docs
	}
	return docs
}

func copyDocument(doc *Document) Document {
	out := *doc
	out.Fields = cloneFields(doc.Fields)
	return out
}
