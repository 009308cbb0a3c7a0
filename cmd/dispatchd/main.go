// dispatchd is the trip dispatch process: driver presence, the offer loop,
// the trip state machine, earnings settlement, in-trip chat and the
// websocket gateway, in one binary.
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
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/camride/dispatch/internal/chat"
	"github.com/camride/dispatch/internal/cleanup"
	"github.com/camride/dispatch/internal/dispatch"
	"github.com/camride/dispatch/internal/earnings"
	"github.com/camride/dispatch/internal/gateway"
	"github.com/camride/dispatch/internal/presence"
	"github.com/camride/dispatch/internal/pricing"
	"github.com/camride/dispatch/internal/ratings"
	"github.com/camride/dispatch/internal/trips"
	"github.com/camride/dispatch/pkg/config"
	"github.com/camride/dispatch/pkg/database"
	"github.com/camride/dispatch/pkg/eventbus"
	"github.com/camride/dispatch/pkg/logger"
	"github.com/camride/dispatch/pkg/middleware"
	"github.com/camride/dispatch/pkg/models"
	redisclient "github.com/camride/dispatch/pkg/redis"
	"github.com/camride/dispatch/pkg/sentry"
)

const (
	serviceName = "dispatchd"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting dispatch service",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	if err := sentry.Init(&cfg.Sentry, cfg.Server.Environment, version); err != nil {
		logger.Warn("sentry init failed, continuing without error tracking", zap.Error(err))
	} else if cfg.Sentry.Enabled {
		defer sentry.Flush(2 * time.Second)
	}

	if err := database.Migrate(&cfg.Database, "migrations"); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close(db)

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.New(eventbus.Config{URL: cfg.NATS.URL, Name: serviceName})
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer bus.Close()
	}

	// Socket layer. With a bus, emits are mirrored to sibling processes.
	hub := gateway.NewHub(redis)
	var notifier interface {
		EmitToUser(userID, event string, payload interface{})
		EmitToTrip(tripID, event string, payload interface{})
	} = hub
	if bus != nil {
		fanout := gateway.NewFanout(hub, bus)
		if err := fanout.Start(rootCtx); err != nil {
			logger.Fatal("failed to start gateway fan-out", zap.Error(err))
		}
		notifier = fanout
	}
	publisher := &busPublisher{bus: bus, source: serviceName}

	// Domain services, wired bottom-up.
	presenceSvc := presence.NewService(redis)
	presenceSvc.SetNotifier(notifier)

	tripRepo := trips.NewRepository(db)
	tripStore := trips.NewRedisStore(redis)

	tripSvc := trips.NewService(tripRepo, tripStore, presenceSvc)
	tripSvc.SetNotifier(notifier)
	tripSvc.SetPublisher(publisher)

	dispatchSvc := dispatch.NewService(redis, presenceSvc, tripRepo, tripStore, cfg.Dispatch)
	dispatchSvc.SetNotifier(notifier)
	dispatchSvc.SetPublisher(publisher)

	earningsSvc := earnings.NewService(db, earnings.NewRepository(), tripRepo, cfg.Earnings)
	tripSvc.SetSettler(func(ctx context.Context, tx pgx.Tx, trip *models.Trip) error {
		_, err := earningsSvc.SettleInTx(ctx, tx, trip)
		return err
	})

	chatSvc := chat.NewService(chat.NewRepository(db), tripRepo, notifier)
	ratingSvc := ratings.NewService(ratings.NewRepository(db), tripRepo)
	pricingSvc := pricing.NewService(pricing.NewRepository(db))

	svc := &services{
		presence: presenceSvc,
		dispatch: dispatchSvc,
		trips:    tripSvc,
		chat:     chatSvc,
	}
	registerSocketHandlers(hub, svc)
	hub.OnConnect = newReplayHandler(hub, svc, tripStore)
	go hub.Run(rootCtx)

	var artifactRemover cleanup.ArtifactRemover
	if cfg.Cleanup.MediaBaseURL != "" {
		artifactRemover = cleanup.NewHTTPArtifactRemover(cfg.Cleanup.MediaBaseURL, nil)
	}
	worker := cleanup.NewWorker(cleanup.NewRepository(db), redis, presenceSvc, artifactRemover, cfg.Cleanup)
	go worker.Start(rootCtx)
	defer worker.Stop()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.Metrics(serviceName))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", func(c *gin.Context) {
		gateway.HandleWebSocket(c, hub, cfg.JWT.Secret)
	})

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWT.Secret))
	trips.NewHandler(tripSvc).RegisterRoutes(api)
	chat.NewHandler(chatSvc).RegisterRoutes(api)
	ratings.NewHandler(ratingSvc).RegisterRoutes(api)
	earnings.NewHandler(earningsSvc).RegisterRoutes(api.Group("/earnings"))
	pricing.NewHandler(pricingSvc).RegisterRoutes(api.Group("/pricing"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
