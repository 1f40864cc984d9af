package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/tsubute/queenfall/internal/config"
	"github.com/tsubute/queenfall/internal/game"
	"github.com/tsubute/queenfall/internal/match"
	"github.com/tsubute/queenfall/internal/obslog"
	"github.com/tsubute/queenfall/internal/rules"
	"github.com/tsubute/queenfall/internal/transport"
)

func main() {
	cfg, err := appcfg.LoadServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	rdb, err := game.OpenRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}

	games := game.NewManager(rdb, rules.NewEngine())
	if cfg.DatabaseURL != "" {
		repo, err := game.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("repository init error: %v", err)
		}
		defer func() { _ = repo.Close() }()
		games.AttachResults(repo)
	}

	reg := match.NewRegistry(rdb, games, cfg.WaitTimeout)
	hub := transport.NewHub(games, reg, cfg.AllowedOrigins)
	api := transport.NewAPI(reg, hub)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Error("server_error", zap.Error(err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	obslog.L().Info("server_shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		obslog.L().Warn("server_shutdown_error", zap.Error(err))
	}
	_ = games.Close()
}
