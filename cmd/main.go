// deal-service
//
// Ingests product deals from the LLM completion gateway (or a fallback
// catalog), normalizes and merges them into Postgres, and ranks them per
// device from declared interests and favorites.
//
// Exposes the REST API under /deals, Prometheus metrics at /metrics and a
// grpc.health.v1 endpoint. A cron job refreshes the catalog periodically.
// Publishes EVENT_DEALS_REFRESHED to Redis after every refresh.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"dealscout/deal-service/internal/config"
	"dealscout/deal-service/internal/db"
	"dealscout/deal-service/internal/deals"
	"dealscout/deal-service/internal/gateway"
	"dealscout/deal-service/internal/grpcserver"
	"dealscout/deal-service/internal/ingest"
	"dealscout/deal-service/internal/logging"
	"dealscout/deal-service/internal/scheduler"
	"dealscout/deal-service/internal/store"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("config error")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	logging.Info().Str("schema", cfg.SchemaName).Msg("connecting to PostgreSQL")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.SchemaName)
	if err != nil {
		logging.Fatal().Err(err).Msg("PostgreSQL")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, cfg.SchemaName); err != nil {
		logging.Fatal().Err(err).Msg("migration failed")
	}
	logging.Info().Msg("PostgreSQL connected, schema up to date")

	// ── Redis ────────────────────────────────────────────────────────────────
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Redis")
	}
	defer rdb.Close()
	logging.Info().Msg("Redis connected")

	if cfg.Gateway.APIKey == "" {
		logging.Warn().Msg("APPIFEX_GATEWAY_API_KEY is not set; refreshes will fail until it is configured")
	}

	// ── Wiring ───────────────────────────────────────────────────────────────
	st := store.New(pool)
	svc := deals.NewService(
		st,
		gateway.NewClient(cfg.Gateway),
		ingest.NewMerger(st),
		deals.NewRedisPublisher(rdb),
		deals.NewRedisCache(rdb, cfg.RecommendationTTL),
	)

	// ── gRPC health ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logging.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("gRPC listen")
	}
	grpcSrv := grpcserver.NewServer()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logging.Fatal().Err(err).Msg("gRPC server error")
		}
	}()
	go grpcSrv.Watch(ctx, 15*time.Second,
		st.Ping,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	)

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      deals.NewRouter(deals.NewHandler(svc), cfg.HTTP, healthHandler),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logging.Info().Str("version", version).Str("port", cfg.Port).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// ── Scheduler ────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Refresh.Enabled {
		sched = scheduler.New(svc, cfg.Refresh)
		if err := sched.Start(ctx); err != nil {
			logging.Fatal().Err(err).Msg("scheduler")
		}
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if sched != nil {
		sched.Stop()
	}
	grpcSrv.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP shutdown error")
	}
	logging.Info().Msg("stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "deal-service",
		"version": version,
	})
}
