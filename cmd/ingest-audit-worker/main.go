package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/internal/ingest-audit/cache"
	"github.com/radieske/betting-core-api/internal/ingest-audit/consumer"
	"github.com/radieske/betting-core-api/internal/ingest-audit/repository"
	sharedcache "github.com/radieske/betting-core-api/internal/shared/cache"
	"github.com/radieske/betting-core-api/internal/shared/config"
	"github.com/radieske/betting-core-api/internal/shared/db"
	"github.com/radieske/betting-core-api/internal/shared/kafka"
	"github.com/radieske/betting-core-api/internal/shared/logger"
	"github.com/radieske/betting-core-api/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ingest-audit-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	// Inicializa dependências: Postgres e Redis
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	redisClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	reader := kafka.NewReader(brokers, cfg.TopicIngestBatches, "ingest-audit")
	defer reader.Close()

	// Métricas Prometheus por estágio do processamento
	reg := prometheus.NewRegistry()
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_audit_messages_consumed_total", Help: "mensagens consumidas"})
	persist := prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_audit_rows_written_total", Help: "linhas gravadas em core.ingest_audit"})
	dupes := prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_audit_duplicates_total", Help: "reentregas já gravadas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ingest_audit_errors_total", Help: "erros por estágio"}, []string{"stage"})
	reg.MustRegister(consumed, persist, dupes, errorsBy)

	proc := &consumer.Processor{
		Log:         log,
		Reader:      reader,
		Store:       repository.NewPostgresRepo(pg),
		Cache:       cache.NewRedisCache(redisClient, 24*time.Hour),
		OnConsumed:  func() { consumed.Inc() },
		OnPersist:   func() { persist.Inc() },
		OnDuplicate: func() { dupes.Inc() },
		OnError:     func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Servidor HTTP para métricas e health check
	msrv := metrics.NewServer(cfg.MetricsPort, reg, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("pg: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})
	go func() {
		log.Info("metrics/health listening", zap.String("addr", msrv.Addr))
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = msrv.Shutdown(sctx)
	}()

	log.Info("ingest-audit-worker started", zap.Strings("brokers", brokers), zap.String("topic", cfg.TopicIngestBatches))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("processor stopped with error", zap.Error(err))
		return
	}
	log.Info("ingest-audit-worker stopped")
}
