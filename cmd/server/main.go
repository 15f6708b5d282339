// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/i18n"
	"github.com/javajoker/settlement-backend/internal/router"
	"github.com/javajoker/settlement-backend/internal/services"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Environment != "production" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.LocalesPath, cfg.I18n.DefaultLocale); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}

	redisClient := newRedisClient(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	sealer, err := services.NewSecretSealer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize key custody")
	}

	svc, err := services.NewServices(db, cfg, services.Dependencies{
		Horizon: services.NewHorizonClient(cfg.Ledger),
		Oracle:  services.NewPriceOracle(cfg, redisClient),
		Cards:   services.NewStripeCardProcessor(cfg.Payment),
		Sealer:  sealer,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize services")
	}

	if err := svc.Reconciler.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start reconciliation")
	}
	defer svc.Reconciler.Stop()

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.Initialize(db, cfg, svc)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}

// newRedisClient returns nil when Redis is not configured or unreachable, in
// which case prices are cached in process.
func newRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis unreachable, using in-process price cache")
		client.Close()
		return nil
	}
	return client
}
