package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/config"
	"github.com/kailas-cloud/guestid/internal/db"
	"github.com/kailas-cloud/guestid/internal/db/memory"
	dbRedis "github.com/kailas-cloud/guestid/internal/db/redis"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	logpkg "github.com/kailas-cloud/guestid/internal/logger"
	"github.com/kailas-cloud/guestid/internal/metrics"
	documentrepo "github.com/kailas-cloud/guestid/internal/repository/document"
	"github.com/kailas-cloud/guestid/internal/repository/prompts"
	"github.com/kailas-cloud/guestid/internal/repository/ratewindow"
	openaiVision "github.com/kailas-cloud/guestid/internal/transport/openai"
	"github.com/kailas-cloud/guestid/internal/usecase/admission"
	"github.com/kailas-cloud/guestid/internal/usecase/confidence"
	"github.com/kailas-cloud/guestid/internal/usecase/detect"
	"github.com/kailas-cloud/guestid/internal/usecase/extract"
	healthuc "github.com/kailas-cloud/guestid/internal/usecase/health"
	lifecycleuc "github.com/kailas-cloud/guestid/internal/usecase/lifecycle"
	"github.com/kailas-cloud/guestid/internal/usecase/parse"
	"github.com/kailas-cloud/guestid/internal/usecase/retry"
	"github.com/kailas-cloud/guestid/internal/version"
)

const usage = `usage: guestid <command> [flags]

commands:
  serve                                 run the ops server and background queue
  extract -file PATH [-type T] [-org ID] extract fields from one image, print JSON
  detect  -file PATH [-org ID]           classify one image, print JSON
  version                               print build information`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Println(version.String())
		return
	}

	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config: "+err.Error())
		os.Exit(1)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger: "+err.Error())
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	switch cmd {
	case "serve":
		err = runServe(env, cfg, logger)
	case "extract":
		err = runExtract(cfg, logger, args)
	case "detect":
		err = runDetect(cfg, logger, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("Command failed", zap.String("command", cmd), zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// app is the composition root shared by every command.
type app struct {
	store     db.Store
	model     *openaiVision.VisionModel
	admitter  *admission.Admitter
	detector  *detect.Service
	extractor *extract.Service
	documents *documentrepo.Repo
	health    *healthuc.Service
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Register extraction metrics explicitly (no init())
	metrics.RegisterExtractionMetrics()

	model := openaiVision.NewVisionModel(&openaiVision.Config{
		APIKey:   cfg.Vision.APIKey,
		BaseURL:  cfg.Vision.BaseURL,
		Model:    cfg.Vision.Model,
		Detail:   cfg.Vision.Detail,
		Provider: cfg.Vision.Provider,
		Logger:   logger,
	})
	if !model.Configured() {
		logger.Warn("vision.api_key is empty, extractions will fail until it is configured")
	}

	ext := cfg.Extraction
	admitter := admission.New(ext.RateLimitPerOrgPerMinute, time.Minute, logger)
	if cfg.Database.Driver == "redis" {
		admitter.WithStore(ratewindow.New(store, cfg.Storage.KeyPrefix))
	}

	classifier := confidence.New(confidence.Thresholds{
		Standard: ext.ConfidenceThreshold,
		Critical: ext.CriticalFieldsThreshold,
	})
	for name, o := range ext.DocumentTypeOverrides {
		classifier.WithOverride(doctype.Type(name), confidence.Thresholds{
			Standard: o.ConfidenceThreshold,
			Critical: o.CriticalFieldsThreshold,
		})
	}

	promptStore, err := prompts.New()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	detector, err := detect.New(model, admitter, promptStore, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	detector.WithTimeout(time.Duration(ext.DetectionTimeoutMs) * time.Millisecond)

	invoker := retry.New(retry.Policy{
		MaxAttempts:    ext.MaxAttempts,
		InitialDelay:   time.Duration(ext.InitialDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(ext.MaxDelayMs) * time.Millisecond,
		Multiplier:     ext.BackoffMultiplier,
		AttemptTimeout: time.Duration(ext.RequestTimeoutMs) * time.Millisecond,
	}, logger)

	extractor := extract.New(model, admitter, invoker, parse.New(classifier), promptStore, logger).
		WithDetector(detector).
		WithOptions(extract.Options{
			RefinementTarget:   ext.RefinementTargetConfidence,
			MaxOutputTokens:    ext.MaxOutputTokens,
			Temperature:        ext.Temperature,
			ParallelEnrichment: ext.ParallelEnrichment,
		})

	// Pass nil interface (not typed nil pointer!) when the model is not configured.
	var modelChecker healthuc.ModelChecker
	if model.Configured() {
		modelChecker = model
	}

	return &app{
		store:     store,
		model:     model,
		admitter:  admitter,
		detector:  detector,
		extractor: extractor,
		documents: documentrepo.New(store, cfg.Storage.KeyPrefix).
			WithRetention(time.Duration(cfg.Storage.DocumentRetentionHours) * time.Hour),
		health:    healthuc.New(store, modelChecker),
	}, nil
}

// newLifecycle wires the background document processor.
func (a *app) newLifecycle(cfg config.Config, logger *zap.Logger) *lifecycleuc.Queue {
	svc := lifecycleuc.New(a.documents, a.extractor, logger)
	return lifecycleuc.NewQueue(svc, logger,
		lifecycleuc.WithWorkers(cfg.Queue.Workers),
		lifecycleuc.WithQueueSize(cfg.Queue.Size),
		lifecycleuc.WithProcessTimeout(time.Duration(cfg.Queue.ProcessTimeoutSec)*time.Second),
	)
}

// newStore creates the database store based on driver.
func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (db.Store, error) {
	var store db.Store
	switch cfg.Database.Driver {
	case "memory":
		store = memory.NewStore()
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	// Wait for database to be ready
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database", zap.String("driver", cfg.Database.Driver))
	return store, nil
}
