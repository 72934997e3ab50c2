package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/underwriting-service/internal/analytics"
	"github.com/Dan9191/underwriting-service/internal/cache"
	"github.com/Dan9191/underwriting-service/internal/config"
	"github.com/Dan9191/underwriting-service/internal/handler"
	"github.com/Dan9191/underwriting-service/internal/integrations/plaid"
	"github.com/Dan9191/underwriting-service/internal/notifications"
	"github.com/Dan9191/underwriting-service/internal/repository"
	"github.com/Dan9191/underwriting-service/internal/scheduler"
	"github.com/Dan9191/underwriting-service/internal/service"
	"github.com/Dan9191/underwriting-service/internal/underwriting"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Scoring policy
	policy := underwriting.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if policy, err = underwriting.LoadPolicy(cfg.PolicyFile); err != nil {
			logger.Fatalf("Failed to load underwriting policy: %v", err)
		}
		logger.Infof("Underwriting policy loaded from %s", cfg.PolicyFile)
	}
	scorer, err := underwriting.NewScorer(policy)
	if err != nil {
		logger.Fatalf("Invalid underwriting policy: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db, cfg.EncryptionKey)
	plaidClient := plaid.NewClient(cfg, logger)
	svc := service.NewService(repo, plaidClient, scorer, analytics.NewAggregator(cfg.LowBalanceThreshold), logger, cfg)

	if cfg.RedisAddr != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warnf("Analysis cache disabled: %v", err)
		} else {
			defer redisClient.Close()
			svc.WithCache(cache.NewAnalysisCache(redisClient, cfg.CacheTTL))
			logger.Infof("Connected to Redis at %s", cfg.RedisAddr)
		}
	}
	if cfg.SMTPEnabled() {
		svc.WithNotifier(notifications.NewSender(cfg, logger))
	}

	// Scheduled refresh
	sched, err := scheduler.New(cfg.RefreshSchedule, svc, logger, 0)
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}
	sched.Start()

	// Start server
	h := handler.NewHandler(svc, logger)
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(h, cfg, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	sched.Stop(shutdownCtx)
}
