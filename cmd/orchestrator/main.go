package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/audit"
	"github.com/procureflow/invoice-orchestrator/internal/bus"
	"github.com/procureflow/invoice-orchestrator/internal/config"
	"github.com/procureflow/invoice-orchestrator/internal/duplicate"
	"github.com/procureflow/invoice-orchestrator/internal/extract"
	"github.com/procureflow/invoice-orchestrator/internal/infrastructure/external/openai"
	httpapi "github.com/procureflow/invoice-orchestrator/internal/interfaces/http"
	"github.com/procureflow/invoice-orchestrator/internal/metrics"
	"github.com/procureflow/invoice-orchestrator/internal/orchestrator"
	"github.com/procureflow/invoice-orchestrator/internal/pomatch"
	"github.com/procureflow/invoice-orchestrator/internal/repository"
	"github.com/procureflow/invoice-orchestrator/internal/risk"
	"github.com/procureflow/invoice-orchestrator/internal/rules"
	"github.com/procureflow/invoice-orchestrator/internal/sla"
	"github.com/procureflow/invoice-orchestrator/internal/vendor"
	"github.com/procureflow/invoice-orchestrator/internal/workflow"
	"github.com/procureflow/invoice-orchestrator/pkg/database"
	"github.com/procureflow/invoice-orchestrator/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if _, statErr := os.Stat(*configPath); statErr == nil {
		cfg, err = config.Load(*configPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
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

	logger.Info("Starting invoice orchestrator",
		zap.Int("port", cfg.Server.Port))

	// Repositories: sqlite when a database path is configured, otherwise
	// in-memory.
	var (
		invoiceRepo repository.InvoiceRepository
		taskRepo    repository.ApprovalTaskRepository
		poRepo      repository.PurchaseOrderRepository
	)
	if cfg.Database.Path != "" {
		db, err := database.New(database.Config{
			Path:            cfg.Database.Path,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer db.Close()

		migrator := database.NewMigrator(db, logger)
		if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}

		invoiceRepo = repository.NewSQLiteInvoiceRepository(db, logger)
		taskRepo = repository.NewSQLiteApprovalTaskRepository(db, logger)
		poRepo = repository.NewSQLitePurchaseOrderRepository(db, logger)
	} else {
		logger.Info("No database path configured, using in-memory repositories")
		invoiceRepo = repository.NewMemoryInvoiceRepository()
		taskRepo = repository.NewMemoryApprovalTaskRepository()
		poRepo = repository.NewMemoryPurchaseOrderRepository()
	}

	// Event bus: Redis streams when a URL is configured, otherwise the
	// in-process transport.
	busOpts := bus.Options{
		StreamMaxLen:    cfg.Bus.StreamMaxLen,
		ConsumerPool:    cfg.Bus.ConsumerPool,
		MaxRetries:      cfg.Bus.MaxRetries,
		RetryBackoff:    cfg.Bus.RetryBackoff,
		RetryBackoffCap: cfg.Bus.RetryBackoffCap,
		ShutdownDrain:   cfg.Bus.ShutdownDrain,
	}
	var eventBus bus.Bus
	if cfg.Redis.URL != "" {
		redisBus, err := bus.NewRedisBus(cfg.Redis.URL, busOpts, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		eventBus = redisBus
	} else {
		logger.Info("No redis url configured, using in-process bus")
		eventBus = bus.NewMemoryBus(busOpts, logger)
	}

	var storage extract.Storage
	if cfg.Storage.Path != "" {
		fileStorage, err := extract.NewFileStorage(cfg.Storage.Path)
		if err != nil {
			logger.Fatal("Failed to initialize document storage", zap.Error(err))
		}
		storage = fileStorage
	} else {
		logger.Info("No storage path configured, keeping documents in memory")
		storage = extract.NewMemoryStorage()
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	workflows := workflow.NewEngine(logger)
	slas := sla.NewManager(sla.Config{
		ProcessingHours:         cfg.SLA.ProcessingHours,
		ReviewHours:             cfg.SLA.ReviewHours,
		ApprovalHours:           cfg.SLA.ApprovalHours,
		WarningThreshold:        cfg.SLA.WarningThreshold,
		FirstReminderHours:      cfg.SLA.FirstReminderHours,
		ManagerEscalationHours:  cfg.SLA.ManagerEscalationHours,
		DirectorEscalationHours: cfg.SLA.DirectorEscalationHours,
	}, logger)
	detector := duplicate.NewDetector(duplicate.Config{
		Enabled:           cfg.Duplicate.Enabled,
		HashWindowDays:    cfg.Duplicate.HashWindowDays,
		SimilarWindowDays: cfg.Duplicate.SimilarWindowDays,
		AmountTolerance:   cfg.Duplicate.AmountTolerance,
	}, logger)
	scorer := risk.NewScorer(risk.Config{
		ApprovalThresholds: cfg.Processing.ApprovalThresholds,
		ReviewThreshold:    cfg.Risk.ReviewThreshold,
	}, logger)

	thresholds := cfg.Processing.ApprovalThresholds
	ruleEngine := rules.NewEngine(rules.DefaultRules(thresholds[0], thresholds[1], thresholds[2]), logger)

	matcher := pomatch.NewMatcher(poRepo, pomatch.Config{
		AmountTolerance: cfg.Duplicate.AmountTolerance,
	}, logger)
	profiler := vendor.NewProfiler(logger)
	auditLog := audit.NewLogger(cfg.Audit.RetentionDays, logger)

	var summarizer extract.Summarizer
	if s := openai.NewSummarizer(openai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Timeout:     cfg.OpenAI.Timeout,
	}, logger); s != nil {
		summarizer = s
	} else {
		logger.Info("No OpenAI API key configured, using template summaries")
	}

	svc := orchestrator.NewService(orchestrator.Config{
		OCRConfidenceThreshold: cfg.Processing.OCRConfidenceThreshold,
		AutoApproveEnabled:     cfg.Processing.AutoApproveEnabled,
		AutoApproveMaxAmount:   cfg.Processing.AutoApproveMaxAmount,
		ApprovalThresholds:     thresholds,
		OCRTimeout:             cfg.Processing.OCRTimeout,
		LLMTimeout:             cfg.Processing.LLMTimeout,
		StorageTimeout:         cfg.Processing.StorageTimeout,
		EscalationSweep:        cfg.Processing.EscalationSweep,
	}, orchestrator.Deps{
		Bus:        eventBus,
		Workflows:  workflows,
		Invoices:   invoiceRepo,
		Tasks:      taskRepo,
		Detector:   detector,
		Scorer:     scorer,
		Rules:      ruleEngine,
		Matcher:    matcher,
		SLAs:       slas,
		Profiler:   profiler,
		Audit:      auditLog,
		Metrics:    m,
		OCR:        extract.NewPlaintextOCR(logger),
		Extractor:  extract.NewRegexFieldExtractor(logger),
		Summarizer: summarizer,
		Storage:    storage,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.RegisterWorkers()
	if err := eventBus.StartConsumers(ctx); err != nil {
		logger.Fatal("Failed to start bus consumers", zap.Error(err))
	}
	go svc.RunEscalationLoop(ctx)

	handlers := httpapi.NewHandlers(svc, invoiceRepo, taskRepo, workflows, slas, auditLog, logger)
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, registry, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()
	if err := server.Stop(); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := eventBus.Stop(context.Background()); err != nil {
		logger.Error("Bus shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
