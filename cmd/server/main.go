package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/config"
	"github.com/garyjia/procurement-lifecycle/internal/container"
	"github.com/garyjia/procurement-lifecycle/pkg/utils"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", envOr("PROCUREMENT_CONFIG", "configs/config.yaml"), "path to the YAML config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting procurement lifecycle service",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("driver", cfg.Database.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}

	srv := c.HTTPServer()
	serveErr := srv.Start(ctx)
	if serveErr != nil {
		logger.Error("HTTP server stopped with error", zap.Error(serveErr))
	}

	logger.Info("Shutting down...")
	if err := c.Close(); err != nil {
		logger.Error("Container shutdown reported errors", zap.Error(err))
	}
	logger.Info("Server exited")

	if serveErr != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
