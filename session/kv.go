// Package session holds per-visitor state: the session-scoped and persistent
// key-value stores, session/visitor identifiers and the signed cookies that carry
// them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// KV is a small string key-value store. Session-scoped and persistent state use
// separate instances with different lifetimes.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// SetIfAbsent stores value only if key is unset and reports whether it did.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryKV is an in-process KV. Entries expire after ttl when ttl > 0.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryKV(ttl time.Duration) *MemoryKV {
	return &MemoryKV{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	return e.value, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.entry(value)
	return nil
}

func (m *MemoryKV) SetIfAbsent(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.entries[key] = m.entry(value)
	return true, nil
}

func (m *MemoryKV) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryKV) entry(value string) memoryEntry {
	e := memoryEntry{value: value}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	return e
}

// BadgerKV stores entries in badger under a key prefix. Entries expire after
// ttl when ttl > 0.
type BadgerKV struct {
	db     *badger.DB
	prefix string
	ttl    time.Duration
}

func NewBadgerKV(db *badger.DB, prefix string, ttl time.Duration) *BadgerKV {
	return &BadgerKV{db: db, prefix: prefix, ttl: ttl}
}

func (b *BadgerKV) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, found, nil
}

func (b *BadgerKV) Set(_ context.Context, key, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(b.entry(key, value))
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

const maxConflictRetries = 10

func (b *BadgerKV) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	for attempt := 0; ; attempt++ {
		stored := false
		err := b.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(b.key(key))
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			stored = true
			return txn.SetEntry(b.entry(key, value))
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if err != nil {
			return false, fmt.Errorf("set-if-absent %s: %w", key, err)
		}
		return stored, nil
	}
}

func (b *BadgerKV) key(k string) []byte {
	return []byte(b.prefix + k)
}

func (b *BadgerKV) entry(key, value string) *badger.Entry {
	e := badger.NewEntry(b.key(key), []byte(value))
	if b.ttl > 0 {
		e = e.WithTTL(b.ttl)
	}
	return e
}
