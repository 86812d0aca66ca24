// Package daemonrun bootstraps the morsel daemon process: logging, pid
// file, store, pipeline wiring, and the signal-aware run loop.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"morsel/internal/chunker"
	"morsel/internal/config"
	"morsel/internal/coordinator"
	"morsel/internal/daemon"
	"morsel/internal/extraction"
	"morsel/internal/forum"
	"morsel/internal/logging"
	"morsel/internal/pipeline"
	"morsel/internal/ranking"
	"morsel/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the morsel daemon runtime loop and blocks until shutdown.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", cfg.LogPath()},
		ErrorOutputPaths: []string{"stderr", cfg.LogPath()},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "morseld.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}
	defer st.Close()

	orchestrator := BuildOrchestrator(cfg, st, logger)
	manager := daemon.NewJobManager(cfg, st, orchestrator, logger)

	d, err := daemon.New(cfg, st, logger, manager)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("morsel daemon shutting down")
	d.Stop()
	orchestrator.WaitFollowUps()
	return nil
}

// BuildOrchestrator wires the batch pipeline from configuration. The CLI
// reuses it for one-shot processing without a daemon.
func BuildOrchestrator(cfg *config.Config, st *store.Store, logger *slog.Logger) *pipeline.Orchestrator {
	source := forum.NewClient(forum.Config{
		BaseURL:           cfg.Forum.BaseURL,
		UserAgent:         cfg.Forum.UserAgent,
		RequestsPerMinute: cfg.Forum.RequestsPerMinute,
		TimeoutSeconds:    cfg.Forum.TimeoutSeconds,
	})
	backend := extraction.NewClient(extraction.Config{
		APIKey:         cfg.Extraction.APIKey,
		BaseURL:        cfg.Extraction.BaseURL,
		Model:          cfg.Extraction.Model,
		TimeoutSeconds: cfg.Extraction.TimeoutSeconds,
	})
	dispatcher := coordinator.New(backend, coordinator.Config{
		Workers:      cfg.Extraction.Workers,
		EngagedScore: cfg.Extraction.EngagedScore,
	}, logger)
	splitter := chunker.New(chunker.Config{
		MaxChars:          cfg.Chunking.MaxChars,
		MaxTokens:         cfg.Chunking.MaxTokens,
		MaxComments:       cfg.Chunking.MaxComments,
		SecondsPerComment: cfg.Chunking.SecondsPerComment,
	}, logger)
	rankingSvc := ranking.NewService(ranking.Config{
		Endpoint:       cfg.Ranking.Endpoint,
		TimeoutSeconds: cfg.Ranking.TimeoutSeconds,
	}, logger)

	return pipeline.New(source, st, st, dispatcher, splitter, rankingSvc, pipeline.Config{
		Freshness: pipeline.FreshnessConfig{
			LookbackDays:   cfg.Freshness.LookbackDays,
			ProbeSize:      cfg.Freshness.ProbeSize,
			MinUnseenProbe: cfg.Freshness.MinUnseenProbe,
		},
	}, logger)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
