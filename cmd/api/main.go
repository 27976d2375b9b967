package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/config"
	"classledger/internal/detector"
	"classledger/internal/handler"
	"classledger/internal/httpmiddleware"
	"classledger/internal/logger"
	"classledger/internal/metrics"
	"classledger/internal/queue"
	"classledger/internal/schedule"
	"classledger/internal/store"
	"classledger/internal/worker"
)

func main() {
	cfg, err := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runHTTP(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(ctx context.Context, cfg config.App) error {
	lg := logger.Component("api")
	m := metrics.New(prometheus.DefaultRegisterer)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	docs, err := store.OpenDocStore(ctx, cfg, store.TxOptions(cfg, m.TxRetryHook()), lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := docs.Close(); err != nil {
			lg.Warn().Err(err).Msg("store close failed")
		}
	}()
	lg.Info().Str("backend", docs.Backend).Msg("document store ready")

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	usesRedis := cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis"
	if usesRedis && !redisClient.Healthy(ctx) {
		lg.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable, continuing")
	}

	ledger := attendance.NewService(docs)
	timetable := schedule.NewTimetable(docs)

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisLimiter(redisClient.Client, cfg.RateLimitPerMin, "")
	} else {
		limiter = httpmiddleware.NewMemoryLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		rq := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		rq.OnError = func(err error) { lg.Warn().Err(err).Msg("queue error") }
		q = rq
	}

	deps := handler.Deps{
		Store:     docs,
		Ledger:    ledger,
		Timetable: timetable,
		Detector:  detector.New(timetable, ledger, loc),
		Queue:     q,
		Issuer: auth.Issuer{
			Name:       cfg.JWTIssuer,
			Key:        cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Limiter:   limiter,
		Metrics:   m,
		Log:       logger.Component("http"),
		Location:  loc,
		DevTokens: !cfg.Production(),
	}
	if usesRedis {
		deps.Redis = redisClient
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.Router(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return docs.RunMaintenance(ctx, logger.Component("badger"))
	})
	if mem, ok := limiter.(*httpmiddleware.MemoryLimiter); ok {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					mem.Sweep(10 * time.Minute)
				}
			}
		})
	}
	// An in-memory queue and an embedded Badger store are private to this
	// process, so their reconcile jobs are consumed here.
	if cfg.QueueBackend == "memory" || cfg.StoreBackend == config.BackendBadger {
		g.Go(func() error {
			return worker.Pool{
				Queue:   q,
				Ledger:  ledger,
				Metrics: m,
				Log:     logger.Component("worker"),
				Workers: cfg.WorkerCount,
			}.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		lg.Info().Msg("shutting down server")

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	lg.Info().Msg("server exited")
	return err
}
