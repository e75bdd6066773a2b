package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/config"
	"InterviewPrep/internal/console"
	"InterviewPrep/internal/content"
	"InterviewPrep/internal/interview"
	"InterviewPrep/internal/keystore"
	"InterviewPrep/internal/server"
	"InterviewPrep/internal/session"
	"InterviewPrep/internal/storage"
	"InterviewPrep/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger, logFile, err := telemetry.InitLogger(telemetry.LogOptions{
		Dir:    cfg.LogDir,
		Debug:  cfg.Debug,
		Stdout: cfg.Mode == config.ModeServe,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	if cfg.ConfigFile != "" {
		logger.Info("loaded config file", "path", cfg.ConfigFile)
	}
	if cfg.EncryptionKey == config.DefaultEncryptionKey {
		logger.Warn("using the default encryption key, set INTERVIEWPREP_ENCRYPTION_KEY in production")
	}

	db, err := storage.Open(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	keys, err := keystore.Open(ctx, db, cfg.EncryptionKey, keystore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	src := loadContent(ctx, cfg, logger)

	factory := backend.NewFactory(
		backend.WithTracer(tracer),
		backend.WithMeter(meter),
		backend.WithLogger(logger),
	)

	engine := interview.NewEngine(session.NewStore(), factory, src,
		interview.WithLogger(logger),
		interview.WithTracer(tracer),
		interview.WithMeter(meter),
		interview.WithProviderTimeout(cfg.ProviderTimeout()),
	)

	logger.Info("starting", "service", telemetry.ServiceName, "version", telemetry.ServiceVersion, "mode", cfg.Mode)

	if cfg.Mode == config.ModeConsole {
		c := console.New(engine, db, keys, logger, console.Options{
			InterviewType: cfg.Console.InterviewType,
			Difficulty:    cfg.Console.Difficulty,
			Questions:     cfg.Console.Questions,
			LLM: backend.Config{
				Provider: cfg.Console.Provider,
				Model:    cfg.Console.Model,
				BaseURL:  cfg.Console.BaseURL,
				APIKey:   cfg.Console.APIKey,
			},
		})
		return c.Run(ctx, os.Stdin, os.Stdout)
	}

	srv := server.New(engine, factory, db, keys, src, logger, server.Options{
		Addr:            cfg.Addr,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	})
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// loadContent indexes the study content. A missing or broken file leaves prompts with the fixed rules only.
func loadContent(ctx context.Context, cfg config.Config, logger *slog.Logger) *content.Store {
	src, err := content.Load(cfg.ContentPath, logger)
	if err != nil {
		logger.Warn("study content unavailable, prompts will not be grounded", "path", cfg.ContentPath, "error", err)
		return content.Empty()
	}
	logger.Info("study content loaded", "path", cfg.ContentPath, "sections", len(src.Sections()))

	if cfg.WatchContent {
		if err := src.Watch(ctx); err != nil {
			logger.Warn("content watch disabled", "error", err)
		}
	}
	return src
}
