package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/mentorslots/libs/db"
	"github.com/md-rashed-zaman/mentorslots/libs/httpx"
	"github.com/md-rashed-zaman/mentorslots/libs/kafkax"
	otelx "github.com/md-rashed-zaman/mentorslots/libs/otel"
	"github.com/md-rashed-zaman/mentorslots/libs/runtime"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/lock"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/storage/memory"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// stores groups the three stores behind one backend.
type stores struct {
	schedules handlers.ScheduleStore
	ledger    ledger.Ledger
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	m := metrics.New()
	var checks []runtime.ReadyCheck

	var st stores
	switch cfg.StorageDriver {
	case storageMemory:
		var sink outbox.Sink = outbox.LogSink{Logger: logger}
		if cfg.KafkaBrokers != "" {
			kafkaSink := outbox.NewKafkaSink(cfg.KafkaBrokers)
			defer func() { _ = kafkaSink.Close() }()
			sink = kafkaSink
		}
		store := memory.New(sink, logger)
		defer store.Close()
		st = stores{schedules: store, ledger: store}
		logger.Warn("using in-memory storage; data is lost on restart")
	default:
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if cfg.MigrateOnStart {
			if err := db.Migrate(pool, migrations.FS, logger); err != nil {
				logger.Error("db migration failed", "err", err)
				os.Exit(1)
			}
		}
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		outboxRepo := outbox.NewRepository()
		st = stores{
			schedules: storage.NewScheduleRepository(pool),
			ledger:    storage.NewCommitmentRepository(pool, outboxRepo),
		}
		go outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			PollEvery: cfg.OutboxPollEvery,
			BatchSize: cfg.OutboxBatchSize,
		}).Run(ctx)
	}
	if cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	var (
		locker    lock.Locker = lock.NewLocal(cfg.LockWait)
		rateLimit httpx.Middleware
		userKey   = httpx.HeaderOrIP(handlers.HeaderUserID)
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})

		locker = lock.NewRedis(rdb, logger, lock.RedisConfig{TTL: cfg.LockTTL, Wait: cfg.LockWait})
		if cfg.RateLimitPerMinute > 0 {
			rateLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "rl:bookings", userKey).
				Middleware(logger, cfg.RateLimitFailOpen)
		}
		logger.Info("redis enabled", "redis_addr", cfg.RedisAddr, "lock_ttl", cfg.LockTTL.String())
	} else if cfg.RateLimitPerMinute > 0 {
		rateLimit = httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, userKey).Middleware()
	}

	generator := availability.NewGenerator(st.schedules, st.schedules, st.ledger, time.Now, availability.Config{
		DefaultWindow: cfg.SlotsWindow,
		MaxWindow:     cfg.SlotsMax,
	})
	orchestrator := booking.NewOrchestrator(st.schedules, st.schedules, st.ledger, locker, m, logger, time.Now, booking.Config{
		DefaultWeeks:  cfg.DefaultWeeks,
		InitialStatus: cfg.InitialStatus,
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", m.Handler())
	handlers.Register(mux,
		handlers.NewScheduleHandler(st.schedules, logger, cfg.SlotsMax),
		handlers.NewSlotsHandler(generator, m, logger),
		handlers.NewBookingHandler(orchestrator, logger, cfg.SlotsMax),
		rateLimit,
	)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
		httpx.WithAccessLog(logger, m.ObserveHTTPRequest),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, cfg.Service)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, err := startGRPCServer(ctx, logger, cfg.GRPCPort, func(ctx context.Context) []string {
		return runtime.RunChecks(ctx, checks)
	})
	if err != nil {
		logger.Error("grpc server init failed", "err", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcSrv.GracefulStop()
	logger.Info("servers stopped")
}
