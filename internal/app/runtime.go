// Package app assembles the runtime: storage, the analysis pipeline,
// the platform connector, the prompt template watcher, and the HTTP
// surface, all supervised by one errgroup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aomori/sobriquet/internal/config"
	"github.com/aomori/sobriquet/internal/connectors"
	"github.com/aomori/sobriquet/internal/connectors/onebot"
	"github.com/aomori/sobriquet/internal/health"
	"github.com/aomori/sobriquet/internal/history"
	"github.com/aomori/sobriquet/internal/httpapi"
	"github.com/aomori/sobriquet/internal/identity"
	"github.com/aomori/sobriquet/internal/inject"
	"github.com/aomori/sobriquet/internal/interpret"
	"github.com/aomori/sobriquet/internal/llm/openai"
	"github.com/aomori/sobriquet/internal/pipeline"
	"github.com/aomori/sobriquet/internal/prompts"
	"github.com/aomori/sobriquet/internal/sobriquet"
	"github.com/aomori/sobriquet/internal/store"
)

const historyBufferCapacity = 200

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	pipeline   *pipeline.Pipeline
	service    *sobriquet.Service
	buffer     *history.Buffer
	watcher    *prompts.Watcher
	health     *health.Registry
	handler    http.Handler
	connectors []connectors.Connector
}

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validationErr := cfg.Validate()

	if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	profileStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := profileStore.AutoMigrate(context.Background()); err != nil {
		profileStore.Close()
		return nil, err
	}

	registry := health.NewRegistry()
	buffer := history.NewBuffer(historyBufferCapacity)
	builder := prompts.NewBuilder()

	var templateWatcher *prompts.Watcher
	if cfg.PromptTemplateFile != "" {
		templateWatcher, err = prompts.NewWatcher(cfg.PromptTemplateFile, builder, logger.With("component", "prompt-watcher"))
		if err != nil {
			profileStore.Close()
			return nil, fmt.Errorf("watch prompt template: %w", err)
		}
	}

	generator := openai.New(openai.Config{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		Timeout: time.Duration(cfg.LLMTimeoutSec) * time.Second,
	}, logger.With("component", "llm"))

	service := sobriquet.New(sobriquet.Deps{
		Store:       profileStore,
		Prompts:     builder,
		Interpreter: interpret.New(cfg.BotDisplayName, cfg.SobriquetMinLength, cfg.SobriquetMaxLength, logger),
		Generator:   generator,
		Persons:     identity.PlatformKeyResolver{},
		History:     buffer,
		Selector:    inject.NewSelector(cfg.MaxSobriquetsInPrompt, cfg.ProbabilitySmoothing, nil),
		Logger:      logger,
	}, sobriquet.Settings{
		ProfileIDSalt:       cfg.ProfileIDSalt,
		AnalysisProbability: cfg.AnalysisProbability,
		HistoryLimit:        cfg.AnalysisHistoryLim,
		RecentSpeakersLimit: cfg.RecentSpeakersLimit,
		BotUserID:           cfg.OneBotSelfID,
	})

	analysisPipeline := pipeline.New(service.ProcessJob, pipeline.Options{
		QueueSize:    cfg.QueueMaxSize,
		PollInterval: time.Duration(cfg.QueuePollSec) * time.Second,
		ErrorBackoff: time.Duration(cfg.ErrorBackoffSec) * time.Second,
		StopTimeout:  time.Duration(cfg.StopTimeoutSec) * time.Second,
		Logger:       logger,
	})
	service.AttachPipeline(analysisPipeline)

	if validationErr != nil {
		logger.Error("configuration invalid, analysis pipeline disabled", "error", validationErr)
		analysisPipeline.Disable(validationErr.Error())
	}

	connector := onebot.New(cfg.OneBotWSURL, cfg.OneBotAccessToken, cfg.OneBotSelfID, buffer, service, logger.With("component", "onebot"))
	connector.SetHealthReporter(registry)
	service.SetNameResolver(connector)

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:   cfg,
		Store:    profileStore,
		Pipeline: analysisPipeline,
		Health:   registry,
		Logger:   logger.With("component", "httpapi"),
	})

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      profileStore,
		pipeline:   analysisPipeline,
		service:    service,
		buffer:     buffer,
		watcher:    templateWatcher,
		health:     registry,
		handler:    handler,
		connectors: []connectors.Connector{connector},
	}, nil
}

// Service exposes the assembled sobriquet service, mainly for embedding
// callers that want prompt injection without going through HTTP.
func (r *Runtime) Service() *sobriquet.Service {
	return r.service
}

func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
