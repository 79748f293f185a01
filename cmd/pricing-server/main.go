package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/config"
	"github.com/joelkehle/watchvault-pricing/internal/fees"
	"github.com/joelkehle/watchvault-pricing/internal/httpapi"
	"github.com/joelkehle/watchvault-pricing/internal/preferences"
	"github.com/joelkehle/watchvault-pricing/internal/pricing"
	"github.com/joelkehle/watchvault-pricing/internal/report"
	"github.com/joelkehle/watchvault-pricing/internal/store"
	"github.com/joelkehle/watchvault-pricing/internal/telemetry"
)

func main() {
	envFile := flag.String("env", ".env", "optional .env file")
	dbFlag := flag.String("db", "", "path to SQLite database file (overrides DB_PATH env var)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}
	logger := config.NewLogger(cfg.LogLevel, os.Stdout)
	log := logger.WithField("component", "pricing-server")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.Setup(ctx, telemetry.Config{ServiceName: "watchvault-pricing", Endpoint: cfg.OTLPEndpoint})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = tp.Shutdown(shutdownCtx)
	}()

	schedule := fees.DefaultSchedule()
	calc := pricing.NewCalculator(schedule)

	repo, err := store.Open(cfg.DBPath, store.WithCalculator(calc), store.WithLogger(logger.WithField("component", "store")))
	if err != nil {
		log.Fatalf("failed to initialize sqlite store (%s): %v", cfg.DBPath, err)
	}
	defer repo.Close()

	prefs, err := preferences.Open(cfg.PreferencesFile, logger.WithField("component", "preferences"))
	if err != nil {
		log.Fatalf("preferences (%s): %v", cfg.PreferencesFile, err)
	}

	deps := httpapi.Deps{
		Schedule:    schedule,
		Calculator:  calc,
		Outliers:    cfg.Outliers,
		Repo:        repo,
		Preferences: prefs,
		PDF:         report.NewChromiumPDFRenderer(cfg.ChromePath),
		Logger:      logger.WithField("component", "api"),
	}
	if pipeline, err := newPipeline(cfg, calc, tp, logger); err != nil {
		log.WithError(err).Warn("appraisal pipeline disabled")
	} else {
		deps.Appraiser = pipeline
		deps.Batch = appraisal.NewBatchRunner(pipeline, cfg.BatchLimit)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewServer(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("pricing server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func newPipeline(cfg config.Config, calc *pricing.Calculator, tp *telemetry.Provider, logger *logrus.Logger) (*appraisal.Pipeline, error) {
	caller, err := appraisal.NewAnthropicCaller(appraisal.AnthropicConfig{
		APIKey:            cfg.AnthropicAPIKey,
		Model:             cfg.AnthropicModel,
		RequestsPerSecond: cfg.LLMRPS,
	})
	if err != nil {
		return nil, err
	}
	return appraisal.NewPipeline(appraisal.NewStageExecutor(caller),
		appraisal.WithCalculator(calc),
		appraisal.WithTracer(tp.Tracer("watchvault-pricing/appraisal")),
		appraisal.WithLogger(logger.WithField("component", "appraisal")),
	)
}
