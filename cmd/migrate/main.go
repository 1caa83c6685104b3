package main

import (
	"fmt"
	"os"
	"strconv"

	"app/internal/config"
	"app/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	m, err := migrate.New("file://migrations", cfg.DBConnectionString)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize migrations: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			logger.Warn().Msgf("Failed to close migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			logger.Fatal().Msgf("Failed to run migrations: %v", err)
		} else if err == migrate.ErrNoChange {
			logger.Info().Msg("No changes: database is already up to date")
		} else {
			logger.Info().Msg("Migrations applied successfully")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			logger.Fatal().Msgf("Failed to roll back last migration: %v", err)
		}
		logger.Info().Msg("Rolled back last migration")

	case "goto":
		if len(os.Args) < 3 {
			logger.Fatal().Msg("Please provide a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			logger.Fatal().Msgf("Invalid version number: %v", err)
		}
		if err := m.Migrate(uint(version)); err != nil && err != migrate.ErrNoChange {
			logger.Fatal().Msgf("Failed to migrate to version %d: %v", version, err)
		} else if err == migrate.ErrNoChange {
			logger.Info().Msgf("No changes: database is already at version %d", version)
		} else {
			logger.Info().Msgf("Migrated to version %d", version)
		}

	case "status":
		version, dirty, err := m.Version()
		if err != nil {
			if err == migrate.ErrNilVersion {
				logger.Info().Msg("No migrations have been applied yet")
			} else {
				logger.Fatal().Msgf("Failed to fetch migration version: %v", err)
			}
			return
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		logger.Info().Msgf("Current migration version: %d%s", version, dirtyStatus)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Available commands:")
	fmt.Println("  up     - Apply all pending migrations")
	fmt.Println("  down   - Roll back the last migration")
	fmt.Println("  goto N - Migrate to version N")
	fmt.Println("  status - Show the current migration version")
}
