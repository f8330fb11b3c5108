package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/deliverability-engine/internal/api"
	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/correlation"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/events"
	"github.com/ignite/deliverability-engine/internal/gate"
	"github.com/ignite/deliverability-engine/internal/healing"
	"github.com/ignite/deliverability-engine/internal/metrics"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/platform"
	"github.com/ignite/deliverability-engine/internal/queue"
	"github.com/ignite/deliverability-engine/internal/repository/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("[Server] Connected to PostgreSQL")

	rdb := openRedis(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	eventRepo := postgres.NewEventRepo(db)
	monitorRepo := postgres.NewMonitorRepo(db)
	metricsRepo := postgres.NewMetricsRepo(db)
	correlationRepo := postgres.NewCorrelationRepo(db)
	healingRepo := postgres.NewHealingRepo(db)
	gateRepo := postgres.NewGateRepo(db)
	apiRepo := postgres.NewAPIRepo(db)

	store := events.NewService(eventRepo)
	metricsSvc := metrics.NewService(metricsRepo)
	healer := healing.NewService(healingRepo, nil)
	correlator := correlation.NewService(correlationRepo)
	registry := platform.NewRegistryFromConfig(cfg.Platforms, rdb)

	mon := monitor.NewService(monitorRepo, metricsSvc, correlator, healer, registry, cfg.Thresholds)

	// Daily caps: Redis counters when available, else derived from the
	// event log on every read.
	var gateThrottle gate.Throttle
	if rdb != nil {
		t := healing.NewThrottle(rdb)
		mon.SetSendRecorder(t)
		gateThrottle = t
	} else {
		gateThrottle = postgres.NewThrottleRepo(db)
	}

	dispatch := queue.NewDispatcher(mon)
	q := queue.New(rdb, store, dispatch, &eventFailureNotifier{repo: monitorRepo}, cfg.Queue)
	q.Start()
	defer q.Stop()

	gateSvc := gate.NewService(gateRepo, gateThrottle, cfg.Thresholds)

	handlers := api.NewHandlers(apiRepo, store, q, gateSvc, dispatch, api.NewSSEHub())
	srv := api.NewServer(cfg.Server, handlers)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on %s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		log.Printf("[Server] Received %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Shutdown error: %v", err)
	}
	log.Println("[Server] Stopped")
}

// openRedis connects when a URL is configured. A nil return switches
// the queue to inline mode and rate limiting to local buckets.
func openRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.URL == "" {
		log.Println("[Server] No Redis configured, queue runs inline")
		return nil
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[Server] Redis ping failed, continuing degraded: %v", err)
	} else {
		log.Println("[Server] Connected to Redis")
	}
	return rdb
}

// eventFailureNotifier surfaces dead-lettered events as notifications.
type eventFailureNotifier struct {
	repo *postgres.MonitorRepo
}

func (n *eventFailureNotifier) NotifyEventFailed(ctx context.Context, orgID, eventID, errMsg string) {
	err := n.repo.InsertNotification(ctx, &domain.Notification{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Severity:       domain.SeverityError,
		Kind:           "event_processing_failed",
		Title:          "Event processing failed",
		Message:        fmt.Sprintf("event %s: %s", eventID, errMsg),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[Queue] notify event failure: %v", err)
	}
}
