package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"heartsearch/internal/app"
	"heartsearch/internal/config"
	"heartsearch/internal/security"
	"heartsearch/internal/server"
	"heartsearch/internal/util"
	"heartsearch/pkg/mailer"
	"heartsearch/pkg/queue"
	"heartsearch/pkg/storage"
	"heartsearch/pkg/store"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	pubmedTimeout, err := config.ParseDuration("pubmedTimeout", cfg.PubMedTimeout)
	if err != nil {
		return err
	}
	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		return err
	}
	verifyTTL, err := config.ParseDuration("verifyTokenTTL", cfg.VerifyTokenTTL)
	if err != nil {
		return err
	}
	ocrTimeout, err := config.ParseDuration("ocrTimeout", cfg.OCRTimeout)
	if err != nil {
		return err
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dataStore.Close()

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
	}

	// History writes leave the request path through a Redis stream when Redis
	// is configured, otherwise through in-process workers.
	var history queue.HistoryQueue
	var runHistory func(context.Context) error
	if redisClient != nil {
		q, err := queue.NewRedisHistoryQueue(queue.RedisQueueConfig{
			Client: redisClient,
			Stream: cfg.HistoryStream,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		history = q
		runHistory = func(ctx context.Context) error {
			return q.Run(ctx, cfg.HistoryWorkers, dataStore.AppendHistory)
		}
	} else {
		d := queue.NewAsyncDispatcher(dataStore.AppendHistory, queue.AsyncConfig{
			Workers: cfg.HistoryWorkers,
			Buffer:  cfg.HistoryBuffer,
			Logger:  logger,
		})
		history = d
		runHistory = d.Run
	}

	var sender mailer.Sender = mailer.LogSender{Logger: logger}
	if cfg.SMTPHost != "" {
		smtp, err := mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return err
		}
		sender = smtp
	} else {
		logger.Warn("smtp not configured; verification codes are only logged")
	}

	var archive storage.ObjectStore
	switch {
	case cfg.MinioEndpoint != "":
		archive, err = storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	case cfg.UploadDir != "":
		archive, err = storage.NewFileStore(cfg.UploadDir)
	}
	if err != nil {
		return err
	}

	appCore, err := app.New(app.Config{
		AppURL:          cfg.AppURL,
		PubMedBaseURL:   cfg.PubMedBaseURL,
		PubMedAPIKey:    cfg.PubMedAPIKey,
		PubMedTimeout:   pubmedTimeout,
		SessionSecret:   cfg.SessionSecret,
		SessionTTL:      sessionTTL,
		SessionSecure:   cfg.SessionSecure,
		VerifyTokenTTL:  verifyTTL,
		FailOnMailError: cfg.FailOnMailError,
		OCRCommand:      cfg.OCRArgs(),
		OCRTimeout:      ocrTimeout,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		Store:           dataStore,
		Mailer:          sender,
		History:         history,
		Archive:         archive,
	})
	if err != nil {
		return err
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	httpServer, err := server.New(server.Config{
		App:            appCore,
		Alerter:        security.NewAuditAlerter(redisClient, "heart:alerts"),
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runHistory(gctx) })
	g.Go(func() error {
		logger.Info("heart server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
