package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hakan2211/course-platform/internal/auth"
	"github.com/Hakan2211/course-platform/internal/config"
	"github.com/Hakan2211/course-platform/internal/content"
	"github.com/Hakan2211/course-platform/internal/database"
	"github.com/Hakan2211/course-platform/internal/events"
	"github.com/Hakan2211/course-platform/internal/ids"
	"github.com/Hakan2211/course-platform/internal/logging"
	"github.com/Hakan2211/course-platform/internal/metrics"
	"github.com/Hakan2211/course-platform/internal/notes"
	"github.com/Hakan2211/course-platform/internal/progress"
	"github.com/Hakan2211/course-platform/internal/ratelimit"
	"github.com/Hakan2211/course-platform/internal/server"
	"github.com/Hakan2211/course-platform/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionIssuer       = "course-platform"
	verifyRateKeyPrefix = "rl:verify:"
	shutdownTimeout     = 10 * time.Second
)

func loadRuntime() (config.AppConfig, *zap.Logger, *gorm.DB, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Environment)
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}

	db, err := database.Open(database.OpenConfig{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
		Logger: logger,
	})
	if err != nil {
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, err
	}
	return appConfig, logger, db, nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, db, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    appConfig.CookieName,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	magicLinks, err := auth.NewMagicLinkExchanger(auth.MagicLinkExchangerConfig{
		Users:    userService,
		Sessions: sessions,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	dispatcher := server.NewRealtimeDispatcher()
	notifiers := []progress.Notifier{dispatcher, recorder}

	if appConfig.AMQPURL != "" {
		publisher, err := events.DialAMQPPublisher(events.AMQPPublisherConfig{
			URL:    appConfig.AMQPURL,
			Queue:  appConfig.AMQPQueue,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer publisher.Close() //nolint:errcheck
		notifiers = append(notifiers, publisher)
		logger.Info("progress events enabled", zap.String("queue", appConfig.AMQPQueue))
	}

	progressService, err := progress.NewService(progress.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids.NewUUIDProvider(),
		Notifier:   events.NewFanout(notifiers...),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var verifyLimiter server.RateLimiter
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
		})
		defer redisClient.Close()
		bucket, err := ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{
			Client:   redisClient,
			Prefix:   verifyRateKeyPrefix,
			Capacity: appConfig.RateLimitCapacity,
			Interval: appConfig.RateLimitInterval,
		})
		if err != nil {
			return err
		}
		verifyLimiter = bucket
		logger.Info("verify rate limiter enabled", zap.String("redis_address", appConfig.RedisAddress))
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessions,
		MagicLinks:     magicLinks,
		Notes:          notesService,
		Progress:       progressService,
		Catalog:        content.NewCatalog(appConfig.ContentDir, logger),
		Realtime:       dispatcher,
		VerifyLimiter:  verifyLimiter,
		Metrics:        recorder,
		BaseURL:        appConfig.BaseURL,
		SecureCookies:  appConfig.IsProduction(),
		AllowedOrigins: appConfig.AllowedOrigins,
		TrustedProxies: appConfig.TrustedProxies,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("environment", appConfig.Environment))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
