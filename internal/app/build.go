package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lumavoice/luma/internal/brain"
	"github.com/lumavoice/luma/internal/config"
	"github.com/lumavoice/luma/internal/events"
	"github.com/lumavoice/luma/internal/history"
	"github.com/lumavoice/luma/internal/httpapi"
	"github.com/lumavoice/luma/internal/observability"
	"github.com/lumavoice/luma/internal/orchestrator"
	"github.com/lumavoice/luma/internal/speech"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *orchestrator.Orchestrator
	Responder    *brain.Responder
	Broadcast    *events.Broadcaster
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Pipeline     *speech.Pipeline
	HistoryMode  string

	// SpeechManager is nil when running in one-shot mode.
	SpeechManager *speech.Manager

	// Cleanup should be called on shutdown to release external resources
	// (history backend, resident worker).
	Cleanup func() error
}

// Build wires the whole service together from config.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	broadcast := events.NewBroadcaster()

	store, historyMode, err := history.NewStore(ctx, history.Options{
		Backend:     cfg.HistoryBackend,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		RedisTTL:    cfg.RedisTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}
	logger.Info("history store ready", zap.String("mode", historyMode))

	var backend brain.Backend
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		logger.Warn("GEMINI_API_KEY not set, using mock model backend")
		backend = brain.NewMockBackend()
	} else {
		backend = brain.NewGeminiBackend(cfg.GeminiAPIKey)
	}
	responder := brain.NewResponder(store, backend, broadcast, logger, cfg.GeminiModels)
	responder.SetMetrics(metrics)

	var (
		requester speech.Requester
		manager   *speech.Manager
	)
	if cfg.SpeechPersistent {
		manager, err = speech.NewManager(speech.ManagerConfig{
			Command:        cfg.WorkerCommand(),
			RequestTimeout: cfg.SpeechTimeout,
			WarmupTimeout:  cfg.SpeechWarmupTimeout,
			Logger:         logger,
			OnRestart:      metrics.WorkerRestarts.Inc,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("speech worker init failed: %w", err)
		}
		requester = manager
	} else {
		logger.Info("speech worker persistence disabled, running one-shot mode")
		requester, err = speech.NewOneShot(cfg.OneShotCommand(), cfg.SpeechTimeout, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("speech one-shot init failed: %w", err)
		}
	}
	pipeline := speech.NewPipeline(requester, cfg.SpeechWorkDir, logger)

	transcoder := orchestrator.NewFFmpegTranscoder(cfg.FFmpegPath, cfg.FFmpegTimeout, logger)
	orch := orchestrator.New(responder, pipeline, pipeline, transcoder, broadcast, metrics, logger, orchestrator.Config{
		WorkDir: cfg.SpeechWorkDir,
	})

	workerAlive := func() bool { return true }
	if manager != nil {
		workerAlive = manager.Alive
	}
	api := httpapi.New(cfg, httpapi.Deps{
		Orchestrator: orch,
		History:      store,
		Broadcast:    broadcast,
		Metrics:      metrics,
		Logger:       logger,
		WorkerAlive:  workerAlive,
		HistoryMode:  historyMode,
	})

	cleanup := func() error {
		var firstErr error
		if manager != nil {
			if err := manager.Close(); err != nil {
				firstErr = err
			}
		}
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Orchestrator:  orch,
		Responder:     responder,
		Broadcast:     broadcast,
		Metrics:       metrics,
		Logger:        logger,
		Pipeline:      pipeline,
		HistoryMode:   historyMode,
		SpeechManager: manager,
		Cleanup:       cleanup,
	}, nil
}
