package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saleschat/internal/analyst"
	"saleschat/internal/app"
	"saleschat/internal/config"
	"saleschat/internal/ownership"
	"saleschat/internal/server"
	"saleschat/internal/session"
	"saleschat/internal/util"
	"saleschat/internal/visitors"
	"saleschat/pkg/events"
	"saleschat/pkg/storage"
	"saleschat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	policy, err := ownership.Resolve(cfg.OwnershipPolicy)
	if err != nil {
		log.Fatalf("failed to resolve ownership policy: %v", err)
	}

	objects, err := storage.NewMinioStore(
		cfg.MinioEndpoint,
		cfg.MinioAccessKey,
		cfg.MinioSecretKey,
		cfg.MinioBucket,
		cfg.MinioUseSSL,
		cfg.MinioPublicBaseURL,
	)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	var recordStore store.Store
	var historyStore store.HistoryStore
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		recordStore = gormStore
		historyStore = gormStore
	} else {
		slog.Warn("no databaseURL configured, using in-memory store")
		memStore := store.NewMemoryStore()
		recordStore = memStore
		historyStore = memStore
	}
	if cfg.RedisAddr != "" {
		historyStore = store.NewRedisHistoryStore(cfg.RedisAddr, cfg.RedisPassword)
	}

	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer rabbit.Close()
		publisher = rabbit
	}

	appCore, err := app.New(app.Config{
		Store:   recordStore,
		Objects: objects,
		Policy:  policy,
		Events:  publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	binder, err := session.New(historyStore, analyst.NewClient(cfg.AnalystServiceURL))
	if err != nil {
		log.Fatalf("failed to init session binder: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Binder:         binder,
		Visitors:       visitors.New(recordStore),
		FrontendOrigin: cfg.FrontendOrigin,
		CookieSecure:   cfg.CookieSecure,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "policy", policy.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}
