package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Skotchmaster/dailyquiz/internal/cache"
	"github.com/Skotchmaster/dailyquiz/internal/config"
	"github.com/Skotchmaster/dailyquiz/internal/db"
	"github.com/Skotchmaster/dailyquiz/internal/events"
	"github.com/Skotchmaster/dailyquiz/internal/hash"
	"github.com/Skotchmaster/dailyquiz/internal/httpserver"
	"github.com/Skotchmaster/dailyquiz/internal/identity"
	"github.com/Skotchmaster/dailyquiz/internal/logging"
	"github.com/Skotchmaster/dailyquiz/internal/repo"
	"github.com/Skotchmaster/dailyquiz/internal/service"
	"github.com/Skotchmaster/dailyquiz/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if !cfg.Federated() {
		config.MustNonEmpty(cfg.JWTAccessSecret, "JWT_SECRET")
		config.MustNonEmpty(cfg.JWTRefreshSecret, "JWT_REFRESH_SECRET")
	}
	if cfg.BcryptCost > 0 {
		hash.Cost = cfg.BcryptCost
	}

	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	initCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	var blocked cache.Blocklist
	var redisCache *cache.RedisBlocklist
	if cfg.RedisURL != "" {
		redisCache, err = cache.NewRedisBlocklist(rootCtx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis_unavailable", "error", err)
		} else {
			blocked = redisCache
		}
	}

	var publisher events.Publisher = events.Nop{}
	var producer *events.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = producer
	}

	gormRepo := repo.New(gdb, blocked)
	access := tokens.NewAccessCodec(cfg.JWTAccessSecret, cfg.AccessTTL)
	refresh := tokens.NewRefreshCodec(cfg.JWTRefreshSecret, cfg.RefreshTTL)
	svc := service.New(gormRepo, access, refresh, publisher)

	var resolver identity.Resolver = identity.NewLocal(access, gormRepo)
	var verifier *identity.JWKSVerifier
	if cfg.Federated() {
		verifier, err = identity.NewJWKSVerifier(rootCtx, cfg.JWKSURL, cfg.FederatedProject)
		if err != nil {
			log.Fatalf("federated verifier: %v", err)
		}
		resolver = identity.NewFederated(verifier, gormRepo, publisher)
	}

	e := httpserver.New(logger)
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	httpserver.Register(e, &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{Svc: svc},
		Guard:       httpserver.NewGuard(resolver),
		DB:          gdb,
		Federated:   cfg.Federated(),
	})

	go func() {
		logger.Info("listening", "addr", cfg.Addr, "mode", cfg.AuthMode)
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("echo start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown", "error", err)
	}
	if verifier != nil {
		verifier.Close()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka close", "error", err)
		}
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			logger.Error("redis close", "error", err)
		}
	}
	if err := db.Close(gdb); err != nil {
		logger.Error("db close", "error", err)
	}
	logger.Info("shutdown complete")
}
