package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/assess"
	"github.com/finbridge/invoice-financing-api/internal/config"
	"github.com/finbridge/invoice-financing-api/internal/handler"
	"github.com/finbridge/invoice-financing-api/internal/infra/accounting"
	"github.com/finbridge/invoice-financing-api/internal/infra/cache"
	"github.com/finbridge/invoice-financing-api/internal/infra/observability"
	"github.com/finbridge/invoice-financing-api/internal/infra/resilience"
	"github.com/finbridge/invoice-financing-api/internal/service"
	"github.com/finbridge/invoice-financing-api/internal/store"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("accounting_api_url", cfg.AccountingAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("catalog_cache_ttl", cfg.CatalogCacheTTL),
		zap.String("risk_threshold", cfg.RiskConcentrationThreshold.String()),
		zap.Int("min_days_left", cfg.MinDaysLeftToPay),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(context.Background(), "invoice-financing-api", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("accounting-platform")
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Accounting platform client ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	accountingClient := accounting.NewClient(
		httpClient,
		cfg.AccountingAPIURL,
		cfg.AccountingAPIKey,
		cfg.PageSize,
		cb,
		resilienceCfg,
		bulkhead,
		logger,
	)

	catalogCache := cache.New[map[string]struct{}](cfg.CatalogCacheTTL)
	catalog := accounting.NewCatalog(accountingClient, catalogCache, metrics, logger)

	// --- Store ---
	applications := store.NewMemory(logger)

	// --- Services ---
	riskAssessor := assess.NewRiskAssessor(accountingClient, logger)
	invoiceAssessor := assess.NewInvoiceAssessor(nil)

	processor := service.NewProcessor(
		accountingClient,
		applications,
		riskAssessor,
		invoiceAssessor,
		metrics,
		logger,
		service.ProcessorParams{
			RiskConcentrationThreshold: cfg.RiskConcentrationThreshold,
			MinDaysLeftToPay:           cfg.MinDaysLeftToPay,
			HomeCountry:                cfg.HomeCountry,
			MaxConcurrency:             cfg.MaxConcurrency,
		},
	)

	orchestrator := service.NewOrchestrator(
		applications,
		accountingClient,
		catalog,
		processor,
		metrics,
		logger,
		cfg.LinkBaseURL,
	)

	// --- Router ---
	router := handler.NewRouter(orchestrator, catalog, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
