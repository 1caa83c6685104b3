package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"syscall"

	"app/internal/config"
	"app/internal/logger"
	"app/internal/orchestrator/dlq"
	"app/internal/orchestrator/repair"
	"app/internal/orchestrator/resync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Orchestrator mode: resync|repair|dlq")
	flag.Parse()

	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// Initialize DB connection
	db, err := sql.Open("pgx", cfg.DBConnectionString)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	logger.Info().Msg("Database connection established")

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Dispatch to the selected orchestrator
	var runErr error
	switch *mode {
	case "resync":
		runErr = resync.Run(ctx, cfg, logger, db)
	case "repair":
		runErr = repair.Run(ctx, cfg, logger, db)
	case "dlq":
		runErr = dlq.Run(ctx, cfg, logger, db)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s orchestrator failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}
