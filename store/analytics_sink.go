package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"pledgesite/api/logging"
	"pledgesite/api/metrics"
	"pledgesite/api/models"
)

// EventSink receives named analytics events. LogEvent never blocks and never fails.
type EventSink interface {
	LogEvent(ctx context.Context, name string, props map[string]any)
}

// Property keys lifted out of props into their own analytics columns.
const (
	PropSessionID = "sessionId"
	PropVisitorID = "visitorId"
	PropPagePath  = "path"
)

// EventWriter persists a batch of analytics events.
type EventWriter interface {
	InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error
}

type BufferedSinkConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// FlushTimeout bounds a single write, including the final drain.
	FlushTimeout time.Duration
	// FailureThreshold consecutive failed flushes open the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func (c *BufferedSinkConfig) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 10 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
}

// BufferedSink queues events in memory and writes them in batches from Serve.
// Writes go through a circuit breaker; events in a failed or rejected batch are
// dropped and counted.
type BufferedSink struct {
	writer EventWriter
	cfg    BufferedSinkConfig
	events chan models.AnalyticsEvent
	cb     *gobreaker.CircuitBreaker[struct{}]
	now    func() time.Time
	log    zerolog.Logger
}

func NewBufferedSink(writer EventWriter, cfg BufferedSinkConfig) *BufferedSink {
	cfg.applyDefaults()
	log := logging.With("analytics-sink")

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "clickhouse-analytics",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &BufferedSink{
		writer: writer,
		cfg:    cfg,
		events: make(chan models.AnalyticsEvent, cfg.BufferSize),
		cb:     cb,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log,
	}
}

func (s *BufferedSink) LogEvent(_ context.Context, name string, props map[string]any) {
	event := newAnalyticsEvent(name, props, s.now())
	select {
	case s.events <- event:
		metrics.AnalyticsEventsLogged.WithLabelValues(name).Inc()
	default:
		metrics.AnalyticsEventsDropped.WithLabelValues("buffer_full").Inc()
	}
}

// Serve flushes whenever a batch fills up or the flush interval passes. On
// shutdown the buffer is drained and written once more.
func (s *BufferedSink) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.AnalyticsEvent, 0, s.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			s.drain(&batch)
			return ctx.Err()
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= s.cfg.BatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *BufferedSink) String() string {
	return "analytics-sink"
}

func (s *BufferedSink) drain(batch *[]models.AnalyticsEvent) {
	for {
		select {
		case ev := <-s.events:
			*batch = append(*batch, ev)
			if len(*batch) >= s.cfg.BatchSize {
				s.flush(*batch)
				*batch = (*batch)[:0]
			}
		default:
			if len(*batch) > 0 {
				s.flush(*batch)
				*batch = (*batch)[:0]
			}
			return
		}
	}
}

func (s *BufferedSink) flush(batch []models.AnalyticsEvent) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()

	_, err := s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.writer.InsertAnalyticsEvents(ctx, batch)
	})
	metrics.AnalyticsFlushDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}

	reason := "write_failed"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "circuit_open"
	}
	metrics.AnalyticsEventsDropped.WithLabelValues(reason).Add(float64(len(batch)))
	s.log.Error().Err(err).Int("events", len(batch)).Str("reason", reason).Msg("failed to flush analytics events")
}

func newAnalyticsEvent(name string, props map[string]any, now time.Time) models.AnalyticsEvent {
	event := models.AnalyticsEvent{
		EventID:    uuid.NewString(),
		EventName:  name,
		Timestamp:  now,
		Properties: make(map[string]any, len(props)),
	}
	for k, v := range props {
		s, isString := v.(string)
		switch {
		case k == PropSessionID && isString:
			event.SessionID = s
		case k == PropVisitorID && isString:
			event.VisitorID = s
		case k == PropPagePath && isString:
			event.PagePath = s
		default:
			event.Properties[k] = v
		}
	}
	return event
}

// NopSink discards every event. Used when ClickHouse is not configured.
type NopSink struct{}

func (NopSink) LogEvent(_ context.Context, name string, _ map[string]any) {
	logging.Debug().Str("event", name).Msg("analytics event discarded")
}
