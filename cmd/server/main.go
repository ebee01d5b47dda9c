package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/dispatch/internal/api"
	"github.com/ignite/dispatch/internal/config"
	"github.com/ignite/dispatch/internal/domains"
	"github.com/ignite/dispatch/internal/limiter"
	"github.com/ignite/dispatch/internal/pkg/logger"
	"github.com/ignite/dispatch/internal/queue"
	"github.com/ignite/dispatch/internal/region"
	"github.com/ignite/dispatch/internal/repository/postgres"
	"github.com/ignite/dispatch/internal/ses"
	"github.com/ignite/dispatch/internal/suppression"
	"github.com/ignite/dispatch/internal/unsubscribe"
	"github.com/ignite/dispatch/internal/usage"
	"github.com/ignite/dispatch/internal/webhook"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	rdb := newRedisClient(cfg.Redis.URL)
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regionRepo := postgres.NewRegionRepo(db)
	registry, err := region.NewRegistry(ctx, regionRepo)
	if err != nil {
		log.Fatalf("Failed to load region settings: %v", err)
	}

	emailRepo := postgres.NewEmailRepo(db)
	domainRepo := postgres.NewDomainRepo(db)
	suppressionRepo := postgres.NewSuppressionRepo(db)
	usageRepo := postgres.NewUsageRepo(db)
	teamRepo := postgres.NewTeamRepo(db)
	contactRepo := postgres.NewContactRepo(db)
	endpointRepo := postgres.NewWebhookEndpointRepo(db)

	usageSvc := usage.NewService(usageRepo, usage.BillingConfig{
		UnitPriceCents:     cfg.Billing.UnitPriceCents,
		TransactionalRatio: cfg.Billing.TransactionalRatio,
	})
	limiterSvc := limiter.NewService(rdb, registry, usageSvc, teamRepo)
	suppressionSvc := suppression.NewService(suppressionRepo)
	sender := ses.NewSender(cfg.SES)
	domainSvc := domains.NewService(domainRepo, sender, limiterSvc, registry)
	unsubSvc := unsubscribe.NewService(cfg.Unsubscribe.Secret, cfg.Unsubscribe.BaseURL, contactRepo, suppressionSvc)
	emailSvc := queue.NewService(emailRepo, domainRepo)

	forwarder := webhook.NewForwarder(endpointRepo, nil)
	dedupe := webhook.NewRedisDeduper(rdb)
	processor := webhook.NewProcessor(emailRepo, suppressionSvc, usageSvc, contactRepo, forwarder, dedupe, nil)

	handlers := api.NewHandlers(emailSvc, domainSvc, suppressionSvc, usageSvc, unsubSvc, endpointRepo, processor, registry)
	router := api.SetupRoutes(handlers, teamRepo, cfg.Server.CORSOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("api server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}

func newRedisClient(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return redis.NewClient(&redis.Options{Addr: url})
	}
	return redis.NewClient(opts)
}
