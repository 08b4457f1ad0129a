// Command registry-gateway runs the registry's HTTP server: the process
// entrypoint wiring configuration, storage, and every service package into
// the gin router served by internal/httpapi.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"
	"github.com/worldcache/registry/internal/common"
	"github.com/worldcache/registry/internal/coordinator"
	"github.com/worldcache/registry/internal/discovery"
	"github.com/worldcache/registry/internal/fetcher"
	"github.com/worldcache/registry/internal/httpapi"
	"github.com/worldcache/registry/internal/identity"
	"github.com/worldcache/registry/internal/ownership"
	"github.com/worldcache/registry/internal/ratelimit"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()
	setupLogging(cfg.Logging)

	logrus.Info("Starting worldcache registry gateway")

	db, err := store.Open(&cfg.Database)
	if err != nil {
		logrus.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		logrus.Fatalf("failed to connect to redis: %v", err)
	}
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	idSvc, err := identity.New(ctx, db, &cfg.Federated)
	cancel()
	if err != nil {
		logrus.Fatalf("failed to initialize identity service: %v", err)
	}

	own := ownership.New(db)
	fetch := fetcher.New(&cfg.Fetch)
	coord := coordinator.New(db, own, fetch, &cfg.Fetch)
	disc := discovery.New(db)
	limiter := ratelimit.New(cache, &cfg.RateLimit)

	srv := httpapi.New(disc, coord, idSvc, limiter)
	router := srv.Router()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("server forced to shutdown: %v", err)
	} else {
		logrus.Info("server shutdown complete")
	}
}

// setupLogging configures the bootstrap-level logrus logger used by this
// command, and the zerolog logger every service package logs through.
func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	zlevel, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zlevel)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
