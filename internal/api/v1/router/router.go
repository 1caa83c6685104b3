package router

import (
	"app/internal/api/v1/handler"
	"app/internal/config"
	"app/internal/middleware"
	"app/internal/pgmq"
	"app/internal/polar"
	"app/internal/pubsub"
	"app/internal/repository"
	"app/internal/service"
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *sql.DB, error) {
	logger.Info().Msg("Router initialized")
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	// Open DB connection (connection pooling)
	dsn := cfg.DBConnectionString
	// In a development environment, we want to ensure that SSL is disabled for
	// local testing. In production, the connection string should be provided
	// with the correct SSL settings.
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := " "
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			if strings.Contains(dsn, "?") {
				separator = "&"
			} else {
				separator = "?"
			}
		}
		dsn += separator + "sslmode=disable"
	}
	// For non-development environments that use a transaction pooler like pgbouncer,
	// we must use the simple query protocol to avoid issues with server-side prepared statements.
	if cfg.Environment != "development" {
		if !strings.Contains(dsn, "prefer_simple_protocol") {
			separator := "&"
			if !strings.Contains(dsn, "?") {
				separator = "?"
			}
			dsn += separator + "prefer_simple_protocol=true"
		}
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
		return nil, nil, err
	}

	if err := db.Ping(); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Initialize Pub/Sub publisher. Optional: without a project configured,
	// user.created events are simply not emitted.
	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		pubSubPublisher, err := pubsub.NewPublisher(context.Background(), cfg.GCPProjectID)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
			return nil, nil, err
		}
		publisher = pubSubPublisher
	}

	// Initialize Redis for rate limiting
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	// Initialize external clients
	polarClient := polar.NewClient(cfg.PolarAccessToken, cfg.PolarServer, logger)
	aiClient := service.NewAIClient(cfg.AIServiceBaseURL, logger)
	queue := pgmq.New(db)

	// Initialize repositories & services & handlers
	userRepo := repository.NewUserRepo(db)
	subRepo := repository.NewSubscriptionRepo(db)
	usageRepo := repository.NewUsageRepo(db)

	syncInterval := time.Duration(cfg.SyncIntervalMinutes) * time.Minute
	subSvc := service.NewSubscriptionService(subRepo, polarClient, syncInterval, logger)
	polarSvc := service.NewPolarService(cfg, polarClient, userRepo, subSvc, queue, logger)
	userSvc := service.NewUserService(userRepo, publisher, cfg.PubSubUserCreatedTopic, logger)
	sweepSvc := service.NewSweepService(
		subRepo,
		userRepo,
		subSvc,
		time.Duration(cfg.ResyncStaleAfterHours)*time.Hour,
		time.Duration(cfg.ResyncThrottleMs)*time.Millisecond,
		time.Duration(cfg.RepairWindowMinutes)*time.Minute,
		logger,
	)
	rateLimitSvc := service.NewRateLimitService(rdb, usageRepo, time.Duration(cfg.ChatLimitWindowHr)*time.Hour, logger)

	userHandler := handler.NewUserHandler(userSvc, validate)
	subHandler := handler.NewSubscriptionHandler(polarSvc, subSvc, validate, logger)
	webhookHandler := handler.NewWebhookHandler(polarSvc, logger)
	jobHandler := handler.NewJobHandler(sweepSvc, logger)
	chatHandler := handler.NewChatHandler(subSvc, rateLimitSvc, aiClient, cfg.ChatLimitFree, cfg.ChatLimitPro, validate, logger)

	// Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)
	isLocalDev := cfg.Environment == "development"
	pushAuthMiddleware := middleware.PubSubAuthMiddleware(isLocalDev, cfg.JobEndpointAudience, cfg.PubSubPushServiceAccountEmail, logger)

	// Create ServeMux router
	mux := http.NewServeMux()

	// Create a subrouter for API v1 with the /v1 prefix
	apiV1Mux := http.NewServeMux()
	userHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	subHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	chatHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	jobHandler.RegisterRoutes(apiV1Mux, pushAuthMiddleware)
	webhookHandler.RegisterRoutes(apiV1Mux)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Redirect all other root-level requests to /v1/{path}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/healthz" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/v1"+r.URL.Path, http.StatusMovedPermanently)
	})

	// Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	})

	return middleware.LoggerMiddleware(c.Handler(mux)), db, nil
}
