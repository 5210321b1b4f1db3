package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videocall-platform/internal/audit"
	"videocall-platform/internal/calls"
	"videocall-platform/internal/config"
	"videocall-platform/internal/presence"
	"videocall-platform/internal/recovery"
	"videocall-platform/internal/signaling"
	"videocall-platform/pkg/logger"
	"videocall-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
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

	// Postgres and Redis are both optional outside production: without the
	// database the service still signals calls, it just keeps no history;
	// without Redis, presence and rate limits fall back to process-local
	// state.
	var db *sql.DB
	var callRepo calls.Repository
	var auditRepo audit.Repository
	if cfg.HasDB() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		callRepo = calls.NewPostgresRepo(db)
		auditRepo = audit.NewPostgresRepo(db)
	} else {
		log.Warn("no database configured, call history disabled")
	}

	var rdb *redis.Client
	if cfg.HasRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	} else {
		log.Warn("no redis configured, presence and rate limits are process-local")
	}

	lifecycle := calls.NewService(callRepo, calls.NewSessionIndex(), log)
	presenceStore := presence.NewStore(rdb, 0)

	var auditSvc *audit.Service
	if auditRepo != nil {
		auditSvc = audit.NewService(auditRepo)
	}

	dispatcher := signaling.NewDispatcher(
		lifecycle,
		presenceStore,
		signaling.NewRateLimiter(rdb, log),
		auditSvc,
		log,
	)

	scanner := recovery.NewScanner(recovery.Config{
		Lifecycle: lifecycle,
		Logger:    log,
		Interval:  cfg.Calls.OrphanScanInterval,
		MaxAge:    int(cfg.Calls.HeartbeatMaxAge.Seconds()),
		Notify: func(ctx context.Context, c calls.OrphanedCall) {
			// Keep the reconnection window open for calls that outlived a
			// restart; the widget retries with its stored token.
			dispatcher.ScheduleReconnectExpiry(c.ID, cfg.Calls.ReconnectWindow)
			log.Info("recovered live call",
				"call_log_id", c.ID,
				"agent_id", c.AgentID,
				"visitor_id", c.VisitorID,
			)
		},
	})
	scanner.Start(rootCtx)
	defer scanner.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, signaling.WSHandler{
		Dispatcher:      dispatcher,
		ReconnectWindow: cfg.Calls.ReconnectWindow,
	}, dbHealth(db))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WebSocket connections outlive these on their own deadlines.
		IdleTimeout: 60 * time.Second,
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

// dbHealth reports whether the durable store, if configured, is reachable.
func dbHealth(db *sql.DB) func(ctx context.Context) string {
	return func(ctx context.Context) string {
		if db == nil {
			return "disabled"
		}
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			return "unreachable"
		}
		return "ok"
	}
}
