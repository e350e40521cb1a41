package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"vetito/internal/config"
	"vetito/internal/database"
	"vetito/internal/events"
	"vetito/internal/jobs"
	"vetito/internal/mediastore"
	"vetito/internal/metadata"
	"vetito/internal/modules/playbackmodule"
	"vetito/internal/modules/subtitlemodule"
	"vetito/internal/server"
	"vetito/internal/subtitles"
	"vetito/internal/transcoder"
)

func main() {
	cfg := config.Get()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "vetito",
		Level:      hclog.LevelFromString(cfg.Logging.Level),
		JSONFormat: cfg.Logging.JSON,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	media := mediastore.New(db)

	inspector, err := metadata.NewInspector(cfg.Transcoding.FFprobePath, logger)
	if err != nil {
		logger.Error("inspector setup failed", "error", err)
		os.Exit(1)
	}
	defer inspector.Close()

	manager := transcoder.NewManager(cfg.Transcoding.FFmpegPath,
		cfg.Transcoding.StartupTimeout.Std(), cfg.Transcoding.TerminateGrace.Std(), logger)

	engine := subtitles.NewEngine(
		subtitles.NewTranscriber(cfg.Transcoding.FFmpegPath, cfg.Subtitles.WhisperPath,
			cfg.Subtitles.WhisperModelPath, cfg.Subtitles.WhisperTimeout.Std(), logger),
		subtitles.NewOllamaClient(cfg.Subtitles.OllamaURL, cfg.Subtitles.OllamaModel, logger),
		cfg.Subtitles.FpcalcPath, cfg.Subtitles.TranslationEnabled, logger)

	bus := events.NewBus()
	jobStore := jobs.NewStore(logger)
	orchestrator := jobs.NewOrchestrator(jobStore, engine, media, inspector,
		int64(cfg.Jobs.EngineConcurrency), bus, logger)

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	jobStore.StartCleanup(cleanupCtx, cfg.Jobs.Retention.Std(), time.Hour)

	deps := server.Deps{
		Playback:     playbackmodule.NewAPIHandler(media, inspector, manager, bus, logger),
		Subtitles:    subtitlemodule.NewAPIHandler(media, inspector, engine, orchestrator, cfg.Transcoding.FFmpegPath, logger),
		Orchestrator: orchestrator,
		Transcoder:   manager,
		Bus:          bus,
		Logger:       logger,
	}
	srv := server.New(cfg, server.NewRouter(cfg, deps), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	orchestrator.Shutdown()
	manager.Shutdown()
}
