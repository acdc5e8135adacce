package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	clts "whalewatch/clients"
	"whalewatch/config"
	"whalewatch/internal/app"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	// loadTimeout is the maximum time to wait for loading from gist
	loadTimeout = 30 * time.Second
)

func main() {
	// Local development convenience; missing .env is fine
	_ = godotenv.Load()

	// Load config from environment variables
	envConfig := config.Load()

	var logger *zap.Logger
	var err error
	if envConfig.IsProd {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting whalewatch", zap.Bool("isProd", envConfig.IsProd))

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	// Initialize clients (needed for Gist access)
	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)

	// Create SettingsManager
	settingsGistID := envConfig.Gist.SettingsGistID
	settingsManager := config.NewSettingsManager(logger, clients.Gist, settingsGistID, liveConfig)

	// Load settings from Gist if enabled
	if settingsManager.IsEnabled() {
		logger.Info("loading settings from gist", zap.String("gist_id", settingsGistID))
		loadCtx, loadCancel := context.WithTimeout(context.Background(), loadTimeout)
		cfg, err := settingsManager.LoadSettings(loadCtx, envConfig)
		loadCancel()
		if err != nil {
			logger.Warn("failed to load settings from gist, using env/defaults", zap.Error(err))
		} else if cfg != nil {
			if err := liveConfig.Update(cfg); err != nil {
				logger.Warn("failed to apply gist settings", zap.Error(err))
			} else {
				logger.Info("settings loaded from gist")
			}
		}
	} else {
		logger.Info("settings gist not configured, using env/defaults")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig, settingsManager)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}

	_ = clients.Notifier.Close()
}
