package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/correlation"
	"github.com/ignite/deliverability-engine/internal/healing"
	"github.com/ignite/deliverability-engine/internal/metrics"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/pkg/distlock"
	"github.com/ignite/deliverability-engine/internal/platform"
	"github.com/ignite/deliverability-engine/internal/repository/postgres"
	"github.com/ignite/deliverability-engine/internal/worker"
)

func main() {
	log.Println("[Worker] Starting background workers")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("[Worker] Connected to PostgreSQL")

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	} else {
		log.Println("[Worker] No Redis configured, locks fall back to pg_advisory")
	}

	monitorRepo := postgres.NewMonitorRepo(db)
	workerRepo := postgres.NewWorkerRepo(db)
	metricsSvc := metrics.NewService(postgres.NewMetricsRepo(db))
	healer := healing.NewService(postgres.NewHealingRepo(db), nil)
	correlator := correlation.NewService(postgres.NewCorrelationRepo(db))
	registry := platform.NewRegistryFromConfig(cfg.Platforms, rdb)

	mon := monitor.NewService(monitorRepo, metricsSvc, correlator, healer, registry, cfg.Thresholds)
	if rdb != nil {
		mon.SetSendRecorder(healing.NewThrottle(rdb))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepLock := distlock.NewLock(rdb, db, "worker:lock:metrics_sweep", cfg.Workers.MetricsInterval())
	metricsWorker := worker.NewMetricsWorker(workerRepo, metricsSvc, mon, healer, sweepLock, cfg.Workers)
	metricsWorker.Start(ctx)

	locks := func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(rdb, db, key, ttl)
	}
	syncWorker := worker.NewSyncWorker(workerRepo, registry, locks, cfg.Workers)
	syncWorker.Start(ctx)

	log.Println("[Worker] Running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Worker] Shutting down")
	cancel()
	metricsWorker.Stop()
	syncWorker.Stop()
	log.Println("[Worker] Stopped")
}
