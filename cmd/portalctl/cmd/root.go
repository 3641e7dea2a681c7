// Package cmd implements the portalctl administrative CLI. It operates
// directly on the portal database and is intended to run on the portal
// host, next to the running service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "github.com/mattn/go-sqlite3"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/shared/logger"
)

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Administer the VPN portal",
	Long: `portalctl manages portal users and local credentials directly
against the portal database.

Examples:
  # Add a local user with permissions
  portalctl user add alice --password s3cret --permission staff

  # Disable a user
  portalctl user disable alice

  # List all users
  portalctl user list`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore loads the configuration and opens the portal database.
func openStore() (*config.Config, db.Store, *logger.Logger, error) {
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     logger.LevelError,
		Format:    logger.Format(cfg.Log.Format),
		Component: "portalctl",
	})

	store, err := db.NewStore(&db.Config{
		Path:            cfg.DB.Path,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, store, log, nil
}
