package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/303webhouse/pandoras-box-sub000/internal/di"
	"github.com/303webhouse/pandoras-box-sub000/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stream client, reconciler and REST API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}

		// Wire DI: Initialize all dependencies
		app, err := di.InitializeApp(cfg)
		if err != nil {
			return fmt.Errorf("app initialization failed: %w", err)
		}

		// Run application (blocks until signal)
		return app.Run()
	},
}
