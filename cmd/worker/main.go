package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"classledger/internal/attendance"
	"classledger/internal/config"
	"classledger/internal/logger"
	"classledger/internal/metrics"
	"classledger/internal/queue"
	"classledger/internal/store"
	"classledger/internal/worker"
)

// Worker consumes reconcile jobs and recounts subject counters.
func main() {
	cfg, err := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.QueueBackend != "redis" || cfg.StoreBackend == config.BackendBadger {
		log.Fatal().
			Str("queue_backend", cfg.QueueBackend).
			Str("store_backend", cfg.StoreBackend).
			Msg("worker needs a redis queue and a SQL store; the api consumes jobs itself otherwise")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("worker failed")
	}
	log.Info().Msg("worker stopped")
}

func run(ctx context.Context, cfg config.App) error {
	lg := logger.Component("worker")
	m := metrics.New(prometheus.DefaultRegisterer)

	docs, err := store.OpenDocStore(ctx, cfg, store.TxOptions(cfg, m.TxRetryHook()), lg)
	if err != nil {
		return err
	}
	defer docs.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		lg.Warn().Str("addr", cfg.RedisAddr).Msg("redis not available, will keep polling")
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	q.OnError = func(err error) { lg.Warn().Err(err).Msg("queue error") }

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Pool{
			Queue:   q,
			Ledger:  attendance.NewService(docs),
			Metrics: m,
			Log:     lg,
			Workers: cfg.WorkerCount,
		}.Run(ctx)
	})
	g.Go(func() error {
		return docs.RunMaintenance(ctx, logger.Component("badger"))
	})
	return g.Wait()
}
