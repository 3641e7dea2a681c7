package main

import (
	"context"
	"os"
	"time"

	"github.com/altivon/vpn-portal/internal/portal"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	_ "github.com/mattn/go-sqlite3"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	log := logger.NewProduction("portal", version)
	log.InfoContext(ctx, "starting vpn-portal", "version", version)

	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		log.ErrorCtx(ctx, "failed to load configuration", err)
		os.Exit(1)
	}

	// Reconfigure the logger with the loaded settings.
	log = logger.New(logger.Config{
		Level:     logger.Level(cfg.Log.Level),
		Format:    logger.Format(cfg.Log.Format),
		Component: "portal",
		Version:   version,
	})
	log.DebugContext(ctx, "configuration loaded successfully")

	service, err := portal.NewService(cfg, log)
	if err != nil {
		log.ErrorCtx(ctx, "failed to create service", err)
		os.Exit(1)
	}

	if err := service.Start(ctx); err != nil {
		log.ErrorCtx(ctx, "failed to start service", err)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if stopErr := service.Stop(shutdownCtx); stopErr != nil {
			log.ErrorCtx(ctx, "failed to cleanup service after startup failure", stopErr)
		}
		os.Exit(1)
	}

	log.InfoContext(ctx, "service started, waiting for shutdown signal")
	service.WaitForShutdown()
	log.InfoContext(ctx, "main process exiting")
}
