package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"pledgesite/api/database"
	"pledgesite/api/logging"
	"pledgesite/api/models"
	"pledgesite/api/utils"
)

const analyticsEventsSchema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	event_id   String,
	event_name LowCardinality(String),
	session_id String,
	visitor_id String,
	timestamp  DateTime64(3, 'UTC'),
	page_path  String,
	properties String
) ENGINE = MergeTree
ORDER BY (event_name, timestamp)
`

// AnalyticsStore writes analytics events to ClickHouse and serves the admin
// time-series queries.
type AnalyticsStore struct {
	DB  *database.ClickHouseClient
	log zerolog.Logger
}

type EventCountByTime struct {
	Time      time.Time `json:"time"`
	EventName *string   `json:"eventName,omitempty"`
	Count     uint64    `json:"count"`
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB:  chClient,
		log: logging.With("analytics-store"),
	}
}

func (s *AnalyticsStore) EnsureSchema(ctx context.Context) error {
	if err := s.DB.Conn.Exec(ctx, analyticsEventsSchema); err != nil {
		return fmt.Errorf("failed to create analytics_events table: %w", err)
	}
	return nil
}

func (s *AnalyticsStore) InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_name, session_id, visitor_id, timestamp, page_path, properties
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		props, err := json.Marshal(event.Properties)
		if err != nil {
			s.log.Warn().Err(err).Str("event_id", event.EventID).Msg("dropping event with unencodable properties")
			continue
		}
		if err := batch.Append(
			event.EventID,
			event.EventName,
			event.SessionID,
			event.VisitorID,
			event.Timestamp,
			event.PagePath,
			string(props),
		); err != nil {
			s.log.Warn().Err(err).Str("event_id", event.EventID).Msg("error appending event to batch")
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.log.Debug().Int("count", len(events)).Msg("inserted analytics events")
	return nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventName string) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []any{start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	filtering := eventName != ""

	if filtering {
		selectCols += ", event_name"
		groupByCols += ", event_name"
		whereClause += " AND event_name = ?"
		args = append(args, eventName)
		orderByCols += ", event_name ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM analytics_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var (
			bucket time.Time
			count  uint64
			name   string
			result EventCountByTime
		)
		if filtering {
			if err := rows.Scan(&bucket, &count, &name); err != nil {
				s.log.Warn().Err(err).Msg("error scanning event count row")
				continue
			}
			result.EventName = &name
		} else if err := rows.Scan(&bucket, &count); err != nil {
			s.log.Warn().Err(err).Msg("error scanning event count row")
			continue
		}
		result.Time = bucket
		result.Count = count
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

// GetUniqueVisitorsOverTime counts distinct visitor ids per bucket.
func (s *AnalyticsStore) GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(visitor_id) AS unique_visitors
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique visitors over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var bucket time.Time
		var visitors uint64
		if err := rows.Scan(&bucket, &visitors); err != nil {
			s.log.Warn().Err(err).Msg("error scanning unique visitors row")
			continue
		}
		results = append(results, EventCountByTime{Time: bucket, Count: visitors})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique visitors: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetTopEvents(ctx context.Context, start, end time.Time, limit uint64) ([]models.EventCount, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT event_name, count() AS event_count
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY event_name
		ORDER BY event_count DESC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top events: %w", err)
	}
	defer rows.Close()

	var results []models.EventCount
	for rows.Next() {
		var ec models.EventCount
		if err := rows.Scan(&ec.EventName, &ec.Count); err != nil {
			s.log.Warn().Err(err).Msg("error scanning top events row")
			continue
		}
		results = append(results, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top events: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetTopNPagePaths(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT page_path, count() AS view_count
		FROM analytics_events
		WHERE event_name = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_path
		ORDER BY view_count DESC
		LIMIT ?
	`, models.EventPageView, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var r models.TopPathResult
		if err := rows.Scan(&r.PagePath, &r.Count); err != nil {
			s.log.Warn().Err(err).Msg("error scanning top page paths row")
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}
	return results, nil
}

// ErrAnalyticsDisabled is returned by admin queries when no ClickHouse is configured.
var ErrAnalyticsDisabled = errors.New("analytics store is not configured")
