package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"pledgesite/api/logging"
	"pledgesite/api/metrics"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        BIGSERIAL   NOT NULL,
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	fields     JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_created_idx
	ON documents (collection, created_at, seq);
`

// PostgresStore keeps documents in one JSONB table. Every write sends a
// pg_notify on the change channel inside its transaction, so watchers on every
// instance see it once it commits. Serve runs the LISTEN loop.
type PostgresStore struct {
	db       *sql.DB
	dsn      string
	channel  string
	now      func() time.Time
	watchers watcherSet
	log      zerolog.Logger

	minReconnect time.Duration
	maxReconnect time.Duration
}

func NewPostgresStore(db *sql.DB, dsn, channel string) *PostgresStore {
	if channel == "" {
		channel = "document_changes"
	}
	return &PostgresStore{
		db:           db,
		dsn:          dsn,
		channel:      channel,
		now:          func() time.Time { return time.Now().UTC() },
		log:          logging.With("postgres-store"),
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
	}
}

// EnsureSchema creates the documents table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("failed to create documents schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, collection string, fields map[string]any) (id string, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("append", collection, time.Since(start), err) }()

	id = uuid.NewString()
	now := s.now()
	raw, err := json.Marshal(resolveFields(fields, now))
	if err != nil {
		return "", fmt.Errorf("failed to encode %s document: %w", collection, err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, fields, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
			collection, id, raw, now,
		); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", collection, err)
		}
		return s.notify(ctx, tx, collection, id)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Accumulate(ctx context.Context, collection, id string, acc Accumulation) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("accumulate", collection, time.Since(start), err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		existing, err := s.lockFields(ctx, tx, collection, id)
		if errors.Is(err, ErrNotFound) {
			raw, err := json.Marshal(applyAccumulation(nil, acc, now))
			if err != nil {
				return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO documents (collection, id, fields, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $4) ON CONFLICT (collection, id) DO NOTHING`,
				collection, id, raw, now,
			)
			if err != nil {
				return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				return s.notify(ctx, tx, collection, id)
			}
			// A concurrent writer created it first; lock its row and merge.
			existing, err = s.lockFields(ctx, tx, collection, id)
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		raw, err := json.Marshal(applyAccumulation(existing, acc, now))
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET fields = $3, updated_at = $4 WHERE collection = $1 AND id = $2`,
			collection, id, raw, now,
		); err != nil {
			return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
		}
		return s.notify(ctx, tx, collection, id)
	})
}

func (s *PostgresStore) lockFields(ctx context.Context, tx *sql.Tx, collection, id string) (map[string]any, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s/%s: %w", collection, id, err)
	}
	return decodeFields(raw)
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, fields, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	doc := Document{ID: id, Collection: collection}
	var raw []byte
	if err := row.Scan(&doc.Seq, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return Document{}, err
	}
	doc.Fields = fields
	return doc, nil
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]Document, error) {
	dir := "ASC"
	if q.Order == Descending {
		dir = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, seq, fields, created_at, updated_at
		FROM documents
		WHERE collection = $1
		ORDER BY created_at %[1]s, seq %[1]s`, dir)
	args := []any{q.Collection}
	if q.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{Collection: q.Collection}
		var raw []byte
		if err := rows.Scan(&doc.ID, &doc.Seq, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", q.Collection, err)
		}
		if doc.Fields, err = decodeFields(raw); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error listing %s: %w", q.Collection, err)
	}
	return docs, nil
}

func (s *PostgresStore) Watch(fn func(Change)) func() {
	return s.watchers.add(fn)
}

// Serve listens on the change channel until ctx is done. A dropped connection
// is reported to watchers as a change to every collection, since notifications
// sent while disconnected are lost.
func (s *PostgresStore) Serve(ctx context.Context) error {
	listener := pq.NewListener(s.dsn, s.minReconnect, s.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			s.log.Warn().Err(err).Msg("change listener disconnected")
		case pq.ListenerEventReconnected:
			s.log.Info().Msg("change listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			s.log.Warn().Err(err).Msg("change listener connection attempt failed")
		}
	})
	defer listener.Close()

	if err := listener.Listen(s.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.channel, err)
	}
	s.log.Info().Str("channel", s.channel).Msg("listening for document changes")

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			if n == nil {
				metrics.StoreListenerReconnects.Inc()
				s.watchers.notify(Change{})
				continue
			}
			s.watchers.notify(parseChange(n.Extra))
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				s.log.Warn().Err(err).Msg("change listener ping failed")
			}
		}
	}
}

func (s *PostgresStore) String() string {
	return "postgres-change-listener"
}

func (s *PostgresStore) notify(ctx context.Context, tx *sql.Tx, collection, id string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, collection+"/"+id); err != nil {
		return fmt.Errorf("failed to notify change of %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func parseChange(payload string) Change {
	collection, id, _ := strings.Cut(payload, "/")
	return Change{Collection: collection, DocumentID: id}
}

// decodeFields keeps numbers as json.Number so counters survive the round trip
// without float rounding.
func decodeFields(raw []byte) (map[string]any, error) {
	fields := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode document fields: %w", err)
	}
	return fields, nil
}
