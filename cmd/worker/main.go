package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/dispatch/internal/config"
	"github.com/ignite/dispatch/internal/limiter"
	"github.com/ignite/dispatch/internal/pkg/distlock"
	"github.com/ignite/dispatch/internal/pkg/logger"
	"github.com/ignite/dispatch/internal/queue"
	"github.com/ignite/dispatch/internal/region"
	"github.com/ignite/dispatch/internal/repository/postgres"
	"github.com/ignite/dispatch/internal/ses"
	"github.com/ignite/dispatch/internal/suppression"
	"github.com/ignite/dispatch/internal/unsubscribe"
	"github.com/ignite/dispatch/internal/usage"
)

// janitorInterval paces the stuck-email sweep and the region settings
// reload. The sweep runs under a distributed lock so only one worker
// instance per deployment executes it.
const (
	janitorInterval = time.Minute
	stuckAfter      = 10 * time.Minute
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

	usageSvc := usage.NewService(usageRepo, usage.BillingConfig{
		UnitPriceCents:     cfg.Billing.UnitPriceCents,
		TransactionalRatio: cfg.Billing.TransactionalRatio,
	})
	limiterSvc := limiter.NewService(rdb, registry, usageSvc, teamRepo)
	suppressionSvc := suppression.NewService(suppressionRepo)
	sender := ses.NewSender(cfg.SES)
	unsubSvc := unsubscribe.NewService(cfg.Unsubscribe.Secret, cfg.Unsubscribe.BaseURL, contactRepo, suppressionSvc)
	renderer := queue.NewRenderer(contactRepo)

	worker := queue.NewWorker(queue.WorkerConfig{
		Concurrency:    cfg.Worker.NumWorkers,
		BatchSize:      cfg.Worker.BatchSize,
		PollInterval:   time.Duration(cfg.Worker.PollIntervalMS) * time.Millisecond,
		MaxSendRetries: cfg.Worker.MaxSendRetries,
	}, emailRepo, renderer, domainRepo, suppressionSvc, limiterSvc, registry, sender, usageSvc, unsubSvc)

	if err := worker.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	go runJanitor(ctx, rdb, db, emailRepo, registry)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down")
	cancel()
	worker.Stop()
}

// runJanitor periodically requeues emails stranded in SENDING by a
// crashed worker and refreshes region settings picked up from the API.
func runJanitor(ctx context.Context, rdb *redis.Client, db *sql.DB, emails *postgres.EmailRepo, registry *region.Registry) {
	lock := distlock.NewLock(rdb, db, "dispatch:janitor", 2*janitorInterval)
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := registry.Reload(ctx); err != nil {
			logger.Warn("region settings reload failed", "error", err.Error())
		}

		ok, err := lock.Acquire(ctx)
		if err != nil {
			logger.Warn("janitor lock", "error", err.Error())
			continue
		}
		if !ok {
			continue
		}
		n, err := emails.ReleaseStuck(ctx, stuckAfter)
		if err != nil {
			logger.Error("release stuck emails", "error", err.Error())
		} else if n > 0 {
			logger.Info("requeued stuck emails", "count", n)
		}
		if err := lock.Release(ctx); err != nil {
			logger.Warn("janitor unlock", "error", err.Error())
		}
	}
}

func newRedisClient(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return redis.NewClient(&redis.Options{Addr: url})
	}
	return redis.NewClient(opts)
}
