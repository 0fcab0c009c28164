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

	"call-orchestrator/internal/auth"
	"call-orchestrator/internal/calls"
	"call-orchestrator/internal/config"
	"call-orchestrator/internal/guard"
	"call-orchestrator/internal/httpapi"
	"call-orchestrator/internal/messaging"
	"call-orchestrator/internal/orchestrator"
	"call-orchestrator/internal/secrets"
	"call-orchestrator/internal/telephony"
	"call-orchestrator/internal/tenant"
	"call-orchestrator/pkg/logger"
	"call-orchestrator/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown.
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

	callRepo := calls.NewPostgresRepo(db)
	tenantRepo := tenant.NewPostgresRepo(db)
	messageRepo := messaging.NewPostgresRepo(db)

	box := secrets.NewBox(cfg.EncryptionKeyBytes())
	callbacks := telephony.CallbackResolver{PublicBaseURL: cfg.Telnyx.PublicBaseURL}

	engine := orchestrator.NewEngine(orchestrator.Deps{
		Calls:           callRepo,
		Tenants:         tenantRepo,
		Messages:        messageRepo,
		Provider:        telephony.NewClient(cfg.Telnyx),
		Secrets:         box,
		Callbacks:       callbacks,
		TransferTimeout: cfg.Telnyx.TransferTimeout,
	})

	handlers := httpapi.Handlers{
		Auth:      authManager,
		Engine:    engine,
		Tenants:   tenantRepo,
		Secrets:   box,
		Guard:     guard.NewRedisLocker(rdb),
		Callbacks: callbacks,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, auth.RequireAccessToken(authManager), engine)

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
}
