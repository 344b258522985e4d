package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/minutely/outreach/api"
	"github.com/minutely/outreach/classify"
	"github.com/minutely/outreach/config"
	"github.com/minutely/outreach/domain"
	"github.com/minutely/outreach/driver"
	"github.com/minutely/outreach/orchestrator"
	"github.com/minutely/outreach/policy"
	"github.com/minutely/outreach/runner"
	"github.com/minutely/outreach/session"
	"github.com/minutely/outreach/store"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func buildTemplates(cfg *config.Config, log *zap.Logger) orchestrator.Templates {
	templates := orchestrator.DefaultTemplates()
	tf, err := cfg.LoadTemplates()
	if err != nil {
		log.Fatal("failed to load message templates", zap.Error(err))
	}
	if tf == nil {
		return templates
	}
	if tf.ConnectionNote != "" {
		templates.ConnectionNote = tf.ConnectionNote
	}
	if tf.FollowUp != "" {
		templates.FollowUp = tf.FollowUp
	}
	for industry, tmpl := range tf.FirstMessage {
		templates.FirstMessage[domain.Industry(industry)] = tmpl
	}
	return templates
}

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting outreach orchestrator",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseURL))

	// Store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	// Any job a previous process left unfinished is failed, never resumed.
	ctx := context.Background()
	if n, err := db.ReconcileInterrupted(ctx); err != nil {
		log.Fatal("failed to reconcile interrupted jobs", zap.Error(err))
	} else if n > 0 {
		log.Warn("reconciled interrupted jobs", zap.Int("count", n))
	}

	// Driver
	drv := driver.NewRodDriver(driver.Config{
		BaseURL:     cfg.BaseURL,
		Headless:    cfg.Headless,
		CookiesFile: cfg.CookiesFile,
	}, log)

	// Classifier: Gemini when a key is configured, static unknown otherwise.
	var classifier classify.Classifier
	if cfg.GeminiAPIKey != "" {
		classifier, err = classify.NewGeminiClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			log.Fatal("failed to initialize classifier", zap.Error(err))
		}
	} else {
		log.Warn("no Gemini API key configured, industry classification disabled")
		classifier = classify.Static{}
	}

	// Session manager
	sessions := session.NewManager(db, drv, log)
	sessions.Resume(ctx)

	// Policy engine and action gate
	engine := policy.NewEngine(policy.Config{
		DailyLimit:       cfg.DailyLimit,
		MinDelay:         cfg.MinDelay,
		MaxDelay:         cfg.MaxDelay,
		Cooldown:         cfg.Cooldown,
		FirstMessageWait: cfg.FirstMessageWait,
		FollowUpWait:     cfg.FollowUpWait,
	})
	gateContent, err := cfg.LoadGatePolicy()
	if err != nil {
		log.Fatal("failed to load gate policy", zap.Error(err))
	}
	if gateContent == "" {
		gateContent = policy.DefaultGatePolicy
	}
	gate, err := policy.NewGate(ctx, gateContent)
	if err != nil {
		log.Fatal("failed to compile gate policy", zap.Error(err))
	}

	// Orchestrator and job runner
	orch := orchestrator.New(db, drv, classifier, engine, buildTemplates(cfg, log), cfg.AttachmentPath, log)
	jobs := runner.New(db, orch, sessions, engine, gate, log)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	api.NewHandler(db, jobs, sessions, log).RegisterRoutes(e)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-gctx.Done():
			return gctx.Err()
		}

		log.Info("shutting down")
		jobs.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown was not graceful", zap.Error(err))
		}
		if err := drv.Close(); err != nil {
			log.Warn("driver close failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal("orchestrator exited", zap.Error(err))
	}
	log.Info("orchestrator stopped")
}
