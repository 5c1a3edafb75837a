package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aiscript/internal/app"
	"aiscript/internal/config"
)

// ConfigFileEnv names the optional JSON or YAML config file.
const ConfigFileEnv = "AISCRIPT_CONFIG_FILE"

func main() {
	if err := run(context.Background(), os.Getenv(ConfigFileEnv)); err != nil {
		fmt.Fprintln(os.Stderr, "aiscript:", err)
		os.Exit(1)
	}
}

// run blocks until SIGINT/SIGTERM, ctx cancellation or an HTTP server failure.
func run(ctx context.Context, configPath string) error {
	// STEP 1: Configuration (file > env > defaults) and root logger
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger(os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 2: Build and start the application
	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// STEP 3: Wait for a shutdown signal or a server failure
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-application.Errors():
		logger.Error().Err(runErr).Msg("application error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Std())
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
