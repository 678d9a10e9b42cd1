package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"pledgesite/api/logging"
)

// OpenBadger opens a badger database in dir, or an in-memory one when dir is empty.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
	}
	logging.Info().Str("dir", dir).Bool("in_memory", dir == "").Msg("opened badger store")
	return db, nil
}

// BadgerGC periodically reclaims value log space.
type BadgerGC struct {
	DB       *badger.DB
	Interval time.Duration
	Name     string
}

func (g *BadgerGC) Serve(ctx context.Context) error {
	interval := g.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Keep collecting until badger reports nothing left to rewrite.
			for {
				err := g.DB.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
					logging.Warn().Err(err).Str("store", g.String()).Msg("badger value log GC failed")
				}
				break
			}
		}
	}
}

func (g *BadgerGC) String() string {
	if g.Name != "" {
		return g.Name
	}
	return "badger-gc"
}
