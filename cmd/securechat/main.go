package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"securechat/internal/auth"
	"securechat/internal/config"
	"securechat/internal/friends"
	"securechat/internal/gateway"
	"securechat/internal/observability/logging"
	"securechat/internal/observability/metrics"
	"securechat/internal/observability/middleware"
	"securechat/internal/service"
	"securechat/internal/store"
	transport "securechat/internal/transport/http"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "securechat",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("securechat")

	logger.Info("starting service")

	db, err := openDB(cfg)
	if err != nil {
		logger.Error("open database", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	var verifier auth.Verifier
	if cfg.SharedSecret != "" {
		logger.Info("using HS256 shared-secret session validation")
		verifier = auth.NewHMACVerifier(cfg.SharedSecret, cfg.Issuer)
	} else {
		logger.Info("using remote session validation", "auth_base_url", cfg.AuthBaseURL)
		verifier = auth.NewClient(cfg.AuthBaseURL)
	}

	var graph friends.Graph
	if cfg.FriendsBaseURL != "" {
		graph = friends.NewClient(cfg.FriendsBaseURL)
	} else {
		logger.Warn("no friend service configured, allowing all pairs")
		graph = friends.Permissive{}
	}

	svc := service.New(st, graph)

	hub := gateway.NewHub(verifier)
	hub.SetTypingFunc(func(ctx context.Context, threadID, userID uuid.UUID, isTyping bool) error {
		return svc.UpdateTyping(ctx, threadID, userID, isTyping)
	})
	svc.SetEvents(gateway.NewEvents(hub))
	go hub.Run()

	router := transport.NewRouter(svc, verifier, hub, transport.RouterConfig{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
	})
	handler := middleware.WithRequestAndTrace(middleware.WithAccessLog(middleware.WithMetrics(router)))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	hub.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DatabaseURL), &gorm.Config{})
	default:
		return gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	}
}
