package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"dealhealth/internal/config"
	"dealhealth/internal/constants"
	"dealhealth/internal/extractor"
	"dealhealth/internal/logger"
	"dealhealth/internal/pipeline"
	"dealhealth/internal/promotion"
	"dealhealth/internal/scoring"
	"dealhealth/pkg/bootstrap"
	"dealhealth/pkg/health"
	"dealhealth/pkg/metrics"
	"dealhealth/pkg/middleware"
	"dealhealth/pkg/migrations"
	"dealhealth/pkg/ratelimit"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	redisClient *redis.Client
	mongoClient *mongo.Client
	service     *promotion.Service
	pipeline    *pipeline.Pipeline
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	metrics.RegisterPipelineMetrics()
	metrics.RegisterScoringMetrics()
	metrics.RegisterExtractionMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}
	if a.Config.API.RateLimit.Enabled {
		metrics.RegisterAPIMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = redisClient

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	return nil
}

func (a *App) initService(ctx context.Context) error {
	var store promotion.Store
	if a.mongoClient != nil {
		dbName := a.Config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		db := a.mongoClient.Database(dbName)
		if err := migrations.EnsureIndexes(ctx, db); err != nil {
			return err
		}
		store = promotion.NewMongoStore(db)
	} else {
		a.Logger.Warn("MongoDB not configured, promotion state is in-memory only")
		store = promotion.NewMemoryStore()
	}

	var dedup *promotion.Deduplicator
	if a.Config.Deduplication.Enabled {
		if a.redisClient == nil {
			a.Logger.Warn("Deduplication enabled but Redis not configured, replay protection disabled")
		} else {
			cache := promotion.NewRedisDedupCache(a.redisClient)
			dedup = promotion.NewDeduplicator(cache, a.Config.Deduplication, a.Logger)
		}
	}

	provider, err := extractor.NewProvider(a.Config.Extractor)
	if err != nil {
		return err
	}

	var tipExtractor *extractor.Extractor
	if a.Config.CircuitBreaker.Enabled {
		tipExtractor = extractor.NewWithBreaker(a.Config.Extractor, provider, a.Config.CircuitBreaker, a.Logger)
	} else {
		tipExtractor = extractor.New(a.Config.Extractor, provider, a.Logger)
	}

	engine := scoring.NewEngine(a.Config.Scoring)
	a.service = promotion.NewService(store, engine, tipExtractor, dedup, a.Logger)
	a.pipeline = pipeline.New(a.Queue, a.service.HandleMessage, a.Config.Pipeline, a.Logger)

	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.CorrelationIDMiddleware())

	if a.Config.API.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.API.RateLimit.RPS,
			Burst:           a.Config.API.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.API.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.API.RateLimit.MaxAge) * time.Second,
			ExemptPaths:     []string{"/health", "/metrics"},
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
	}

	healthRegistry := health.NewCheckerRegistry()
	if a.redisClient != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redisClient))
	}
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler := promotion.NewHandler(a.service, a.pipeline, a.Logger)
	handler.RegisterRoutes(router)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.pipeline.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down deal health service")

	additionalShutdown := func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.mongoClient)
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
