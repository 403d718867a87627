package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/care/posetrack/internal/batch"
	"github.com/care/posetrack/internal/config"
	"github.com/care/posetrack/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:           "posetrackd",
		Short:         "Pose keypoint classification service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogger(debug)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults when empty)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newClassifyCmd(&configPath))
	root.AddCommand(newLabelsCmd(&configPath))
	return root
}

// setupLogger installs a JSON slog handler on stderr so command output on
// stdout stays machine-readable
func setupLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run streaming sessions over MQTT and the live camera",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cfg, *configPath)
		},
	}
}

func serve(cfg *config.Config, configPath string) error {
	slog.Info("starting posetrack service",
		"config", configPath,
		"instance_id", cfg.InstanceID,
	)

	svc, err := service.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		}
		cancel()
	}

	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("posetrack service stopped successfully")
	return runErr
}

func newClassifyCmd(configPath *string) *cobra.Command {
	var stride int
	var sequence bool

	cmd := &cobra.Command{
		Use:   "classify <video|image-dir>",
		Short: "Classify a stored video and print a JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			opts := batch.Options{Stride: cfg.Batch.Stride, Mode: batch.ModePerFrame}
			if cmd.Flags().Changed("stride") {
				opts.Stride = stride
			}
			if sequence || cfg.Batch.Whole {
				opts.Mode = batch.ModeSequence
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := service.New(cfg)
			if err != nil {
				return err
			}
			if err := svc.StartModels(ctx); err != nil {
				return err
			}
			defer svc.StopModels()

			pipe, err := svc.Batch()
			if err != nil {
				return err
			}
			report, err := pipe.Process(ctx, args[0], opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().IntVar(&stride, "stride", 1, "process every n-th frame")
	cmd.Flags().BoolVar(&sequence, "sequence", false, "also classify the whole processed sequence")
	return cmd
}

func newLabelsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the class labels in model output order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			svc, err := service.New(cfg)
			if err != nil {
				return err
			}
			for i, name := range svc.Labels().Names() {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i, name)
			}
			return nil
		},
	}
}
