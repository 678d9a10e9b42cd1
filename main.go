package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pledgesite/api/config"
	"pledgesite/api/dashboard"
	"pledgesite/api/database"
	"pledgesite/api/feed"
	"pledgesite/api/handlers"
	"pledgesite/api/logging"
	"pledgesite/api/middleware"
	"pledgesite/api/session"
	"pledgesite/api/store"
	"pledgesite/api/supervisor"
	"pledgesite/api/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout + 5*time.Second})

	// --- Document store ---
	var docs store.Store
	switch cfg.Store.Driver {
	case "postgres":
		dbClient, err := database.NewPostgresDB(cfg.Store)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to initialize PostgreSQL")
		}
		defer dbClient.Close()

		pg := store.NewPostgresStore(dbClient.DB, cfg.Store.DatabaseURL, cfg.Store.NotifyChannel)
		if err := pg.EnsureSchema(ctx); err != nil {
			logging.Fatal().Err(err).Msg("failed to create document schema")
		}
		tree.AddDataService(pg)
		docs = pg
	default:
		logging.Warn().Msg("using the in-memory document store; data is lost on restart")
		docs = store.NewMemoryStore()
	}

	// --- Analytics events (optional) ---
	var sink store.EventSink = store.NopSink{}
	var queries handlers.EventQueries
	if cfg.ClickHouse.Enabled {
		chClient, err := database.NewClickHouseDB(cfg.ClickHouse)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to initialize ClickHouse")
		}
		defer chClient.Close()

		analyticsStore := store.NewAnalyticsStore(chClient)
		if err := analyticsStore.EnsureSchema(ctx); err != nil {
			logging.Fatal().Err(err).Msg("failed to create analytics schema")
		}
		buffered := store.NewBufferedSink(analyticsStore, store.BufferedSinkConfig{
			BufferSize:    cfg.ClickHouse.BufferSize,
			BatchSize:     cfg.ClickHouse.BatchSize,
			FlushInterval: cfg.ClickHouse.FlushInterval,
		})
		tree.AddDataService(buffered)
		sink = buffered
		queries = analyticsStore
	}

	// --- Session state ---
	kvDB, err := database.OpenBadger(cfg.Session.StateDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open session state")
	}
	defer func() {
		if err := kvDB.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing session state")
		}
	}()
	tree.AddDataService(&database.BadgerGC{DB: kvDB, Name: "session-state-gc"})

	secret := cfg.Session.Secret
	if secret == "" {
		secret = uuid.NewString()
		logging.Warn().Msg("session.secret not set; using a random secret, cookies will not survive a restart")
	}
	tokens := session.NewTokens(secret, cfg.Session.SessionTTL, cfg.Session.VisitorTTL)

	// --- Tracking ---
	recorder := tracker.NewRecorder(docs, sink,
		session.NewBadgerKV(kvDB, "session:", cfg.Session.SessionTTL),
		session.NewBadgerKV(kvDB, "visitor:", cfg.Session.VisitorTTL),
		tracker.Options{
			PossibleKeywords: cfg.Tracking.PossibleKeywords,
			IPHashKey:        []byte(cfg.Session.IPHashKey),
		})
	dispatcher := tracker.NewDispatcher(cfg.Tracking.Workers, cfg.Tracking.QueueSize, cfg.Tracking.WriteTimeout)
	tree.AddDataService(dispatcher)

	// --- Live feeds and dashboard ---
	hub := feed.NewHub(docs)
	aggregator := dashboard.NewAggregator(hub, dashboard.Options{
		SearchVisitorWindow: cfg.Feeds.SearchVisitorWindow,
		RecentWindow:        cfg.Feeds.RecentWindow,
		TopButtons:          cfg.Feeds.TopButtons,
	})
	tree.AddAPIService(aggregator)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.Every)
		tree.AddAPIService(limiter)
	}

	// --- HTTP ---
	router := handlers.NewRouter(handlers.RouterDeps{
		Recorder:      recorder,
		Dispatcher:    dispatcher,
		Hub:           hub,
		Aggregator:    aggregator,
		Queries:       queries,
		Tokens:        tokens,
		Limiter:       limiter,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		CookieSecure:  cfg.Session.CookieSecure,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().
		Int("port", cfg.Server.Port).
		Str("store", cfg.Store.Driver).
		Bool("clickhouse", cfg.ClickHouse.Enabled).
		Msg("pledge API starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped unexpectedly")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("server exiting")
}
