package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailbridge/config"
	"mailbridge/core/domain"
	"mailbridge/internal/bootstrap"
	"mailbridge/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var (
	cfg *config.Config

	syncUser    string
	syncChannel string
	syncMax     int
)

var rootCmd = &cobra.Command{
	Use:           "mailbridge",
	Short:         "mailbridge - keyword-filtered Gmail ingestion into deduplicated feeds",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional outside local development
		envErr := godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		logCfg := logger.Config{
			Level:   logger.ParseLevel(cfg.LogLevel),
			Service: "mailbridge-" + cmd.Name(),
		}
		if cfg.IsDevelopment() {
			logCfg.Output = zerolog.ConsoleWriter{Out: os.Stdout}
		}
		logger.Init(logCfg)

		if envErr != nil {
			logger.Debug("No .env file found, using environment variables")
		}
		return nil
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, cleanup, err := bootstrap.NewDependencies(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		return runAPI(deps)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume sync jobs from the Redis stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, cleanup, err := bootstrap.NewDependencies(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		w, err := bootstrap.NewWorker(deps)
		if err != nil {
			return err
		}
		go stopOnSignal(func() { w.Stop() })
		logger.Info("Starting worker...")
		w.Start()
		return nil
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Serve the HTTP triggers and consume jobs in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, cleanup, err := bootstrap.NewDependencies(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		w, err := bootstrap.NewWorker(deps)
		if err != nil {
			logger.WithError(err).Warn("Worker disabled")
		} else {
			go w.Start()
			defer w.Stop()
		}
		return runAPI(deps)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync now and print the report",
	Long:  "Without flags every eligible user is synced with the default keywords.",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, cleanup, err := bootstrap.NewDependencies(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		var report any
		switch {
		case syncUser != "" && syncChannel != "":
			return fmt.Errorf("--user and --channel are mutually exclusive")
		case syncUser != "":
			userID, err := uuid.Parse(syncUser)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			report, err = deps.Orchestrator.SyncUser(ctx, userID, syncMax)
			if err != nil {
				return err
			}
		case syncChannel != "":
			report, err = syncOneChannel(ctx, deps, syncChannel)
			if err != nil {
				return err
			}
		default:
			report, err = deps.Orchestrator.RunBatch(ctx, deps.Orchestrator.DefaultKeywords(), syncMax)
			if err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func syncOneChannel(ctx context.Context, deps *bootstrap.Dependencies, slug string) (*domain.SyncReport, error) {
	channel, err := deps.Store.GetChannelBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if len(channel.Keywords) == 0 {
		return nil, fmt.Errorf("channel %s has no keywords", slug)
	}
	return deps.Orchestrator.SyncChannel(ctx, channel, syncMax)
}

func runAPI(deps *bootstrap.Dependencies) error {
	app := bootstrap.NewAPI(deps)

	go stopOnSignal(func() {
		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
			return
		}
		logger.Info("API server shut down gracefully")
	})

	addr := ":" + deps.Config.Port
	logger.Info("Starting API server on %s", addr)
	return app.Listen(addr)
}

// stopOnSignal runs stop on SIGINT or SIGTERM and exits if it takes longer than shutdownTimeout.
func stopOnSignal(stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("Shutdown timed out, forcing exit")
		os.Exit(1)
	}
}

func init() {
	syncCmd.Flags().StringVar(&syncUser, "user", "", "sync one user's personal feed (user id)")
	syncCmd.Flags().StringVar(&syncChannel, "channel", "", "sync one channel feed (slug)")
	syncCmd.Flags().IntVar(&syncMax, "max", 0, "max messages per search (default SYNC_MAX_RESULTS)")

	rootCmd.AddCommand(apiCmd, workerCmd, allCmd, syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
