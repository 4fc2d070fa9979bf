// main.go
package main

import (
	"context"
	"log"

	"carconnect-api/cmd"
	"carconnect-api/internal/data/repository"
	"carconnect-api/internal/wire"
	"carconnect-api/pkg/database"
	"carconnect-api/pkg/eventbus"
	"carconnect-api/pkg/paystack"
	"carconnect-api/pkg/utils"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"
)

func main() {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App.Name, config.App.LogPath, config.App.Debug)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("port", config.App.Port),
		zap.String("env", config.App.Env),
		zap.Bool("debug", config.App.Debug),
	)

	if config.Database.AutoMigrate {
		if err := database.RunMigrations(database.ConnString(config.Database)); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	repos := repository.NewRepository(db, logger)

	gateway := paystack.NewClient(config.Paystack.SecretKey, logger,
		paystack.WithBaseURL(config.Paystack.BaseURL),
		paystack.WithTimeout(config.Paystack.Timeout),
	)

	bus := newEventBus(config, logger)
	defer bus.Close()

	if config.Metrics.PushURL != "" {
		if err := metrics.InitPush(config.Metrics.PushURL, config.Metrics.PushInterval, `app="`+config.App.Name+`"`, true); err != nil {
			logger.Warn("Failed to initialize metrics push", zap.Error(err))
		}
	}

	// Wire all dependencies
	app := wire.Wiring(repos, gateway, bus, config, logger)

	if err := cmd.APIServer(app.Router, config.App.Port, logger); err != nil {
		logger.Error("Server stopped", zap.Error(err))
		return
	}
	logger.Info("Server stopped")
}

// newEventBus fans out across replicas through Redis when configured.
func newEventBus(config *utils.Config, logger *zap.Logger) eventbus.Bus {
	if config.Redis.URL == "" {
		return eventbus.NewMemoryBus()
	}

	bus, err := eventbus.NewRedisBus(context.Background(), config.Redis.URL, logger)
	if err != nil {
		logger.Warn("Redis event bus unavailable, falling back to in-process bus", zap.Error(err))
		return eventbus.NewMemoryBus()
	}
	return bus
}
