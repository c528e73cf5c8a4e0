package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/internal/fraud"
	"github.com/cartvale/fraud-engine/pkg/cache"
	"github.com/cartvale/fraud-engine/pkg/common"
	"github.com/cartvale/fraud-engine/pkg/config"
	"github.com/cartvale/fraud-engine/pkg/counter"
	"github.com/cartvale/fraud-engine/pkg/database"
	"github.com/cartvale/fraud-engine/pkg/eventbus"
	"github.com/cartvale/fraud-engine/pkg/logger"
	"github.com/cartvale/fraud-engine/pkg/middleware"
	"github.com/cartvale/fraud-engine/pkg/ratelimit"
	redisclient "github.com/cartvale/fraud-engine/pkg/redis"
	"github.com/cartvale/fraud-engine/pkg/tracing"
)

const (
	serviceName = "fraud-engine"
	version     = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting fraud engine", zap.String("version", version))

	// Initialize Sentry error tracking
	if cfg.Sentry.Enabled && cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Server.Environment,
			Release:     serviceName + "@" + version,
		}); err != nil {
			log.Warn("Failed to initialize Sentry", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize tracing
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
			SampleRate:     cfg.Tracing.SampleRate,
			Enabled:        true,
		}, log)
		if err != nil {
			log.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	// Initialize database
	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	log.Info("Connected to database")

	// Initialize Redis
	rdb, err := redisclient.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	log.Info("Connected to redis")

	// Initialize event bus
	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		busCfg := eventbus.DefaultConfig()
		busCfg.URL = cfg.NATS.URL
		busCfg.Name = serviceName
		bus, err = eventbus.New(busCfg)
		if err != nil {
			log.Warn("Failed to connect to NATS, events disabled", zap.Error(err))
		} else {
			defer bus.Close()
		}
	}

	// Wire the assessment pipeline
	repo := fraud.NewRepository(db)
	store := counter.NewRedisStore(rdb.Client)
	scores := cache.NewManager(rdb)

	var detector fraud.AnonymizerDetector
	if baseURL := os.Getenv("ANONYMIZER_API_URL"); baseURL != "" {
		detector = fraud.NewHTTPAnonymizerDetector(baseURL)
	} else {
		log.Warn("ANONYMIZER_API_URL not set, anonymized IP detection disabled")
	}

	oracle := fraud.NewOracle(repo, detector, cfg.Fraud.SubCheckTimeout())
	velocity := fraud.NewVelocityTracker(store)
	ruleEngine := fraud.NewRuleEngine(velocity, oracle, repo, cfg.Fraud.SubCheckTimeout())
	catalog := fraud.NewCachedCatalog(func(ctx context.Context) ([]fraud.FraudRule, error) {
		return repo.ListRules(ctx, true)
	}, cfg.Fraud.RuleCacheTTL())

	var events fraud.EventPublisher
	if bus != nil {
		events = bus
	}

	alerts := fraud.NewAlertManager(repo, events)
	engine := fraud.NewEngine(cfg.Fraud, repo, ruleEngine, catalog, oracle, alerts, events, scores)
	handler := fraud.NewHandler(engine, alerts)

	// Adaptive rate limiter fed by the engine's own scores
	limiter := ratelimit.NewLimiter(store, engine, cfg.RateLimit)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(middleware.Metrics(serviceName))
	if cfg.Sentry.Enabled {
		router.Use(middleware.SentryMiddleware())
	}

	// Health and readiness
	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/readyz", common.ReadinessProbe(serviceName, version, map[string]func() error{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(ctx)
		},
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(ctx).Err()
		},
	}))

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Register fraud engine routes
	handler.RegisterRoutes(router, cfg.JWT.Secret, middleware.FraudRateLimit(limiter))

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server starting", zap.String("port", cfg.Server.Port), zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with 30 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
