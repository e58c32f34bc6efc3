package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/config"
	"prism-board/notify"
	"prism-board/ordering"
	"prism-board/realtime"
	"prism-board/storage"
	"prism-board/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{Endpoint: cfg.OTelEndpoint, Enabled: cfg.OTelEnabled})
	if err != nil {
		logger.Fatalf("tracing: %v", err)
	}

	store, err := storage.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	rtMetrics := realtime.NewMetrics(nil)
	registry := realtime.NewRegistry(logger, realtime.WithMetrics(rtMetrics))

	var (
		snapshots = storage.NewSnapshotCache(store, nil, 0)
		deduper   api.Deduper
		relay     *realtime.Relay
		outlets   []notify.Outlet
	)
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	if redisOpts != nil {
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		snapshots = storage.NewSnapshotCache(store, rc, cfg.BoardCacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		relay = realtime.NewRelay(rc, cfg.RealtimeChannel, uuid.NewString(), registry, logger, rtMetrics)
		outlets = append(outlets, notify.OutletFunc("relay", relay.Publish))
	} else {
		logger.Warn("redis not configured: snapshot cache, idempotency and cross-instance relay disabled")
	}

	var activity api.ActivityReader
	if cfg.ActivityTable != "" {
		activityLog, err := storage.NewActivityLog(cfg.StorageConnectionString, cfg.ActivityTable)
		if err != nil {
			logger.Fatalf("activity log: %v", err)
		}
		activity = activityLog
		outlets = append(outlets, notify.OutletFunc("activity", activityLog.Record))
	}
	if cfg.EventExportQueue != "" {
		export, err := storage.NewEventExport(cfg.StorageConnectionString, cfg.EventExportQueue)
		if err != nil {
			logger.Fatalf("event export: %v", err)
		}
		outlets = append(outlets, notify.OutletFunc("export", export.Send))
	}

	notifyMetrics := notify.NewMetrics(nil)
	dispatcher := notify.NewDispatcher(logger, notifyMetrics, cfg.Outlets, outlets...)
	notifier := notify.New(registry, logger,
		notify.WithCache(snapshots),
		notify.WithDispatcher(dispatcher),
		notify.WithMetrics(notifyMetrics),
		notify.WithEvictTimeout(cfg.CacheEvictTimeout),
	)
	store.SetCommitHook(notifier.Committed)

	coordinator := ordering.NewCoordinator(store, logger,
		ordering.WithRenormalizationCounter(rtMetrics.Renormalizations),
	)

	var jwks *keyfunc.JWKS
	if cfg.LocalAuthMode == "" {
		jwks, err = keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("auth.jwks.refresh_failed")
			},
		})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
	}
	auth, err := api.NewAuth(jwks, api.AuthConfig{
		Audience:    cfg.Auth0Audience,
		Issuer:      cfg.Issuer(),
		LocalMode:   cfg.LocalAuthMode,
		LocalSecret: cfg.LocalAuthSecret,
		KeyCacheTTL: cfg.JWKSCacheTTL,
	})
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
	}))
	e.Use(echoprometheus.NewMiddleware("prism"))
	e.GET("/metrics", echoprometheus.NewHandler())

	deps := api.Deps{
		Store:     store,
		Snapshots: snapshots,
		Mover:     coordinator,
		Activity:  activity,
		Auth:      auth,
		Deduper:   deduper,
		Stream: realtime.NewStreamHandler(registry, store, auth, logger, realtime.StreamConfig{
			SinkBuffer: cfg.SinkBuffer,
			Heartbeat:  cfg.StreamHeartbeat,
		}),
		Logger: logger,
	}
	api.Register(e, deps)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if relay != nil {
			relay.Run(relayCtx)
		}
	}()

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.Addr(), "outlets": len(outlets)}).Info("server.starting")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server.failed")
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutting_down")

	// close sinks first so open streams return and Shutdown can drain
	registry.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server.shutdown")
	}
	stopRelay()
	<-relayDone
	dispatcher.Close()
	if err := store.Close(); err != nil {
		logger.WithError(err).Warn("storage.close")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracing.shutdown")
	}
	logger.Info("server.stopped")
}
