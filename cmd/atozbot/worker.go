package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/services/portal"
	"github.com/ternarybob/atozbot/internal/services/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one worker session (spawned by the controller)",
	Long:   `Logs into the portal and runs the job-check loop until SIGTERM, reporting to the controller's callback URL.`,
	Hidden: true,
	RunE:   runWorker,
}

var (
	workerSessionID   string
	workerGeneration  int64
	workerCallbackURL string
	workerDriver      string
)

func init() {
	workerCmd.Flags().StringVar(&workerSessionID, "session-id", "", "Session this worker reports for")
	workerCmd.Flags().Int64Var(&workerGeneration, "generation", 0, "Spawn generation echoed on every callback")
	workerCmd.Flags().StringVar(&workerCallbackURL, "callback-url", "", "Controller base URL (overrides config)")
	workerCmd.Flags().StringVar(&workerDriver, "driver", "chrome", "Site driver: chrome or mock")
	_ = workerCmd.MarkFlagRequired("session-id")
}

func runWorker(cmd *cobra.Command, args []string) error {
	config, _, err := loadConfig()
	if err != nil {
		return err
	}
	if workerCallbackURL != "" {
		config.Worker.CallbackURL = workerCallbackURL
	}

	logger := common.InitLogger(config, fmt.Sprintf("worker-%s.log", workerSessionID)).WithCorrelationId(workerSessionID)

	release, err := worker.AcquireLock(config.Worker.LockFile)
	if err != nil {
		logger.Error().Err(err).Str("lock_file", config.Worker.LockFile).Msg("Worker lock unavailable, exiting")
		return err
	}
	defer release()

	factory, err := siteDriverFactory(config, logger)
	if err != nil {
		return err
	}

	client := worker.NewControllerClient(config.CallbackBaseURL(), common.Duration(config.Worker.CallbackTimeout, 5*time.Second), logger)
	configSource := worker.NewConfigSource(client, config.Bot.Configuration(time.Now()), common.Duration(config.Worker.ConfigRefresh, 30*time.Second), logger)
	reporter := worker.NewReporter(client, workerSessionID, workerGeneration, config.Worker.ProgressEventsPerSec, logger)

	opts := worker.OptionsFromConfig(config, workerSessionID, workerGeneration)
	if workerDriver == "mock" && opts.Credentials.Username == "" {
		opts.Credentials = interfaces.Credentials{Username: "mock", Password: "mock"}
	}
	loop := worker.NewLoop(opts, factory, configSource, client, reporter, logger)

	// SIGTERM from the supervisor is the normal way a worker ends
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Int("pid", os.Getpid()).
		Int64("generation", workerGeneration).
		Str("callback_url", config.CallbackBaseURL()).
		Str("driver", workerDriver).
		Msg("Worker started")

	if err := loop.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Worker exited with error")
		return err
	}

	counters := loop.Counters()
	logger.Info().
		Int64("total_checks", counters.TotalChecks).
		Int64("total_accepted", counters.TotalAccepted).
		Int64("total_rejected", counters.TotalRejected).
		Msg("Worker stopped")
	return nil
}

func siteDriverFactory(config *common.Config, logger arbor.ILogger) (interfaces.SiteDriverFactory, error) {
	switch workerDriver {
	case "chrome", "":
		return portal.NewFactory(portal.OptionsFromConfig(config.Portal), logger), nil
	case "mock":
		// Empty board: exercises login, polling and callbacks without a browser
		mock := &portal.MockFactory{Drivers: []*portal.MockDriver{{}}}
		return mock.Factory(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q (expected chrome or mock)", workerDriver)
	}
}
