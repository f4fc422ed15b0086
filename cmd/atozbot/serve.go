package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/atozbot/internal/app"
	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot controller",
	Long:  `Starts the HTTP controller: lifecycle endpoints, worker callbacks, the push channel and maintenance jobs.`,
	RunE:  runServe,
}

var (
	servePort int
	serveHost string
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Server port (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Server host (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Startup sequence: config -> CLI overrides -> logger -> banner
	config, paths, err := loadConfig()
	if err != nil {
		return err
	}
	common.ApplyFlagOverrides(config, servePort, serveHost)

	logger := common.InitLogger(config, "")
	common.PrintBanner(config, logger)

	logger.Debug().
		Str("sqlite_path", config.Storage.SQLite.Path).
		Str("cache_type", config.Cache.Type).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration (sanitized)")

	application, err := app.New(config, paths, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return err
	}
	defer application.Close()

	srv := server.New(application)

	serverErr := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		serverErr <- srv.Start()
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Interrupt signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
			return err
		}
	}

	// Graceful shutdown; application.Close stops the worker
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
	return nil
}
