package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/betting-core-api/internal/core-api/auth"
	httpapi "github.com/radieske/betting-core-api/internal/core-api/http"
	"github.com/radieske/betting-core-api/internal/core-api/publisher"
	"github.com/radieske/betting-core-api/internal/core-api/ratelimit"
	"github.com/radieske/betting-core-api/internal/core-api/repo"
	"github.com/radieske/betting-core-api/internal/core-api/ws"
	"github.com/radieske/betting-core-api/internal/shared/cache"
	"github.com/radieske/betting-core-api/internal/shared/config"
	"github.com/radieske/betting-core-api/internal/shared/db"
	"github.com/radieske/betting-core-api/internal/shared/kafka"
	"github.com/radieske/betting-core-api/internal/shared/logger"
	"github.com/radieske/betting-core-api/internal/shared/metrics"
	"github.com/radieske/betting-core-api/internal/shared/tracing"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "core-api"
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.Tracing)
	if err != nil {
		log.Fatal("tracing init", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled), zap.String("auth_mode", cfg.Auth.Mode))

	// conecta com db Postgres
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	log.Info("postgres connected")

	// conecta com Redis (rate limit + broadcast de ticks)
	rdb, err := cache.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("redis connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	scriptFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_script_fallbacks_total", Help: "EVALSHA sem script registrado (NOSCRIPT) reenviado via EVAL",
	})
	reg.MustRegister(scriptFallbacks)

	limiter := ratelimit.NewRedisLimiter(rdb, ratelimit.NewRedisClock(rdb))
	limiter.OnFallback = scriptFallbacks.Inc
	if cfg.RateLimit.Enabled {
		if err := limiter.Load(ctx); err != nil {
			log.Fatal("failed to load rate limit script", zap.Error(err))
		}
	}

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		log.Fatal("invalid auth config", zap.Error(err))
	}

	hub := ws.NewHub(allowOrigin(cfg.CORSOrigins), log)
	if err := ws.StartRedisSubscriber(ctx, rdb, cfg.RedisPubSubChannel, hub, log); err != nil {
		log.Fatal("failed to subscribe odds channel", zap.Error(err))
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ws_connections", Help: "conexões websocket abertas",
	}, func() float64 { return float64(hub.Connections()) }))

	api := &httpapi.API{
		Store:     repo.NewPostgres(pg),
		Ticks:     publisher.NewRedisBroadcaster(rdb, cfg.RedisPubSubChannel),
		Auth:      authn,
		Gate:      ratelimit.NewGate(limiter, cfg.RateLimit.Enabled, log),
		Stream:    hub.HandleWS,
		Metrics:   httpapi.NewMetrics(reg),
		Log:       log,
		Config:    cfg,
		RedisPing: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	// Kafka é opcional: sem brokers os eventos não são publicados
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		ingestW := kafka.NewWriter(brokers, cfg.TopicIngestBatches)
		betsW := kafka.NewWriter(brokers, cfg.TopicBetsRecorded)
		defer ingestW.Close()
		defer betsW.Close()
		api.Events = publisher.NewEventPublisher(ingestW, betsW, log)
		log.Info("kafka writers ready", zap.Strings("brokers", brokers),
			zap.String("ingest_topic", cfg.TopicIngestBatches), zap.String("bets_topic", cfg.TopicBetsRecorded))
	} else {
		log.Warn("KAFKA_BROKERS empty, domain events disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	msrv := metrics.NewServer(cfg.MetricsPort, reg, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(srv, log) })
	g.Go(func() error { return serve(msrv, log) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), msrv.Shutdown(sctx))
	})

	if err := g.Wait(); err != nil {
		log.Error("core-api stopped with error", zap.Error(err))
		return
	}
	log.Info("core-api stopped")
}

func serve(srv *http.Server, log *zap.Logger) error {
	log.Info("http server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}

// allowOrigin aplica CORS_ORIGINS ao handshake do websocket
func allowOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if slices.Contains(origins, "*") {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
