package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-billing/internal/audit"
	"call-billing/internal/auth"
	"call-billing/internal/billing"
	"call-billing/internal/config"
	"call-billing/internal/httpapi"
	"call-billing/internal/ledger"
	"call-billing/internal/notify"
	"call-billing/internal/reporting"
	"call-billing/internal/session"
	"call-billing/pkg/logger"
	"call-billing/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Services
	notifier := notify.NewPublisher(rdb, log)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	engine := billing.NewEngine(db, notifier, billing.Config{
		HeartbeatTimeout: cfg.Billing.HeartbeatTimeout,
	}, log)
	engine.SetAuditor(auditSvc)

	ledgerSvc := ledger.NewService(db)
	sessionSvc := session.NewService(db, engine, notifier)
	reportSvc := reporting.NewService(reporting.NewPostgresRepo(db))

	// Background sweeper
	sweeper := billing.NewScheduler(engine, rdb, cfg.Billing.SweepInterval, cfg.Billing.SweepCapTTL, log)
	go sweeper.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, db, auth.RequireAccessToken(authManager), httpapi.Handlers{
		Auth:     authManager,
		Sessions: sessionSvc,
		Engine:   engine,
		Ledger:   ledgerSvc,
		Reports:  reportSvc,
		Audit:    auditSvc,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
