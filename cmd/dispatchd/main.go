package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"driver-dispatch-backend/config"
	"driver-dispatch-backend/internal/api"
	"driver-dispatch-backend/internal/db"
	"driver-dispatch-backend/internal/dispatch"
	"driver-dispatch-backend/internal/logger"
	"driver-dispatch-backend/internal/notify"
	"driver-dispatch-backend/internal/timeutil"
)

func main() {
	log, err := logger.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("failed to load configuration", zap.String("path", configPath), zap.Error(err))
	}
	log.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	log.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Without VAPID keys the engine still queues outbox rows; they just
	// stay unsent.
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions := &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notify.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, log)
		pool.Start(ctx)
		if err := pool.DrainUnsent(ctx, 500); err != nil {
			log.Warn("draining unsent notifications failed", zap.Error(err))
		}
		notifier = pool
	} else {
		log.Warn("VAPID keys not configured, push delivery disabled")
	}

	engine := dispatch.NewEngine(gormDB, &cfg.Dispatch, timeutil.Real{}, notifier, log)

	if cfg.Pipeline.Enabled {
		runner := dispatch.NewRunner(engine, cfg.Pipeline.Interval, log)
		go runner.Run(ctx)
	} else {
		log.Warn("evaluator pipeline disabled, sweeps will not run")
	}

	router := api.NewRouter(engine, &cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("HTTP server shutdown", zap.Error(err))
	}

	log.Info("server gracefully stopped")
}
