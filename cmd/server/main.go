package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yokitheyo/jira-export/internal/api"
	"github.com/yokitheyo/jira-export/internal/archive"
	"github.com/yokitheyo/jira-export/internal/config"
	"github.com/yokitheyo/jira-export/internal/jira"
	"github.com/yokitheyo/jira-export/internal/pipeline"
	"github.com/yokitheyo/jira-export/internal/queue"
	"github.com/yokitheyo/jira-export/internal/storage"
	"github.com/yokitheyo/jira-export/internal/store"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	if err := os.MkdirAll(cfg.Export.OutputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer st.Close()

	client, err := jira.NewClient(&jira.Config{
		BaseURL:    cfg.Jira.BaseURL,
		Email:      cfg.Jira.Email,
		APIToken:   cfg.Jira.APIToken,
		FetchSize:  cfg.Jira.FetchSize,
		MaxRetries: cfg.Jira.MaxRetries,
		RateLimit:  cfg.Jira.RateLimit,
	}, logger)
	if err != nil {
		log.Fatalf("jira client error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := newStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("storage error: %v", err)
	}

	deps := pipeline.Deps{
		Tracker:      client,
		Builder:      archive.NewBuilder(cfg.Export.OutputDir, logger),
		Storage:      backend,
		Store:        st,
		SegmentLimit: cfg.SegmentSizeBytes(),
		Logger:       logger,
	}

	q := queue.New(st, deps, queue.Config{
		Workers:       cfg.Queue.Workers,
		DispatchDelay: cfg.Queue.DispatchDelay.Std(),
		Retention:     cfg.Queue.Retention.Std(),
		SweepInterval: cfg.Queue.SweepInterval.Std(),
	}, logger)
	q.Start(ctx)
	q.Sweep(ctx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	api.RegisterHandlers(r, &api.Handler{
		Store:               st,
		Queue:               q,
		Deps:                deps,
		Storage:             backend,
		OutputDir:           cfg.Export.OutputDir,
		DeleteAfterDownload: cfg.DeleteAfterDownload(),
		KeepAliveInterval:   cfg.Queue.KeepAliveInterval.Std(),
		Logger:              logger,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		logger.Printf("server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown: %v", err)
	}
	q.Wait()
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:  cfg.Storage.S3.Endpoint,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			Bucket:    cfg.Storage.S3.Bucket,
			Region:    cfg.Storage.S3.Region,
			UseSSL:    cfg.Storage.S3.UseSSL,
		})
	default:
		return storage.NewLocal(cfg.Export.OutputDir)
	}
}
