package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Chirraag/talkmybio-fv3/internal/config"
	"github.com/Chirraag/talkmybio-fv3/internal/httpapi"
	"github.com/Chirraag/talkmybio-fv3/internal/observability"
	"github.com/Chirraag/talkmybio-fv3/internal/session"
	"github.com/Chirraag/talkmybio-fv3/internal/storage"
	"github.com/Chirraag/talkmybio-fv3/internal/transport"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := session.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer store.Close()

	var uploader storage.Uploader
	switch cfg.RecordingStore {
	case "s3":
		uploader, err = storage.NewS3Uploader(storage.S3Config{
			Bucket:     cfg.RecordingsBucket,
			Region:     cfg.RecordingsRegion,
			Endpoint:   cfg.RecordingsEndpoint,
			PublicBase: cfg.RecordingsPublicBase,
		})
		if err != nil {
			log.Fatalf("s3 uploader init failed: %v", err)
		}
		logger.Info("recording store: s3", zap.String("bucket", cfg.RecordingsBucket))
	default:
		uploader = storage.NewInMemoryUploader()
		logger.Info("recording store: in-memory")
	}

	var dialer transport.Dialer
	switch cfg.CallProvider {
	case "ws":
		dialer, err = transport.NewWSDialer(transport.WSConfig{
			URL:    cfg.CallProviderWSURL,
			APIKey: cfg.CallProviderAPIKey,
		})
		if err != nil {
			log.Fatalf("call provider init failed: %v", err)
		}
		logger.Info("call provider: ws", zap.String("url", cfg.CallProviderWSURL))
	default:
		dialer = transport.NewMockDialer()
		logger.Info("call provider: mock")
	}

	api := httpapi.New(cfg, store, uploader, dialer, logger, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
