package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mentorslots/libs/config"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

const (
	storagePostgres = "postgres"
	storageMemory   = "memory"
)

type serviceConfig struct {
	Service  string
	Port     string
	GRPCPort string

	StorageDriver  string
	DatabaseURL    string
	MigrateOnStart bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
	LockWait      time.Duration

	KafkaBrokers    string
	OutboxPollEvery time.Duration
	OutboxBatchSize int

	DefaultWeeks  int
	InitialStatus model.Status
	SlotsWindow   time.Duration
	SlotsMax      time.Duration

	RateLimitPerMinute int
	RateLimitFailOpen  bool
	BodyLimitBytes     int64
	RequestTimeout     time.Duration
}

// loadConfig reads the environment and reports every invalid key at once.
func loadConfig() (serviceConfig, error) {
	var (
		cfg  serviceConfig
		errs []error
		err  error
	)
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	cfg.Service = config.String("SERVICE_NAME", "scheduling-service")
	cfg.Port, err = config.Port("PORT", "8080")
	collect(err)
	cfg.GRPCPort, err = config.Port("GRPC_PORT", "9090")
	collect(err)

	cfg.StorageDriver = strings.ToLower(config.String("STORAGE_DRIVER", storagePostgres))
	switch cfg.StorageDriver {
	case storagePostgres:
		cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL")
		collect(err)
		cfg.MigrateOnStart, err = config.Bool("MIGRATE_ON_START", true)
		collect(err)
	case storageMemory:
	default:
		collect(fmt.Errorf("STORAGE_DRIVER must be %q or %q (got %q)", storagePostgres, storageMemory, cfg.StorageDriver))
	}

	cfg.RedisAddr = config.String("REDIS_ADDR", "")
	cfg.RedisPassword = config.String("REDIS_PASSWORD", "")
	cfg.RedisDB, err = config.Int("REDIS_DB", 0, 0)
	collect(err)
	cfg.LockTTL, err = config.Duration("LOCK_TTL", 10*time.Second)
	collect(err)
	cfg.LockWait, err = config.Duration("LOCK_WAIT", 3*time.Second)
	collect(err)

	cfg.KafkaBrokers = config.String("KAFKA_BROKERS", "")
	cfg.OutboxPollEvery, err = config.Duration("OUTBOX_POLL_EVERY", 2*time.Second)
	collect(err)
	cfg.OutboxBatchSize, err = config.Int("OUTBOX_BATCH_SIZE", 50, 1)
	collect(err)

	cfg.DefaultWeeks, err = config.Int("BOOKING_DEFAULT_WEEKS", 4, 1)
	collect(err)
	if cfg.DefaultWeeks > model.MaxWeeks {
		collect(fmt.Errorf("BOOKING_DEFAULT_WEEKS must be at most %d", model.MaxWeeks))
	}
	cfg.InitialStatus, err = model.ParseStatus(config.String("BOOKING_INITIAL_STATUS", string(model.StatusConfirmed)))
	if err == nil && !cfg.InitialStatus.Occupies() {
		err = errors.New("BOOKING_INITIAL_STATUS must be PENDING or CONFIRMED")
	}
	collect(err)

	windowDays, err := config.Int("SLOTS_DEFAULT_WINDOW_DAYS", 21, 1)
	collect(err)
	maxDays, err := config.Int("SLOTS_MAX_WINDOW_DAYS", 62, 1)
	collect(err)
	if windowDays > maxDays {
		collect(errors.New("SLOTS_DEFAULT_WINDOW_DAYS must not exceed SLOTS_MAX_WINDOW_DAYS"))
	}
	cfg.SlotsWindow = time.Duration(windowDays) * 24 * time.Hour
	cfg.SlotsMax = time.Duration(maxDays) * 24 * time.Hour

	cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 30, 0)
	collect(err)
	cfg.RateLimitFailOpen, err = config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	collect(err)
	bodyLimit, err := config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20, 1)
	collect(err)
	cfg.BodyLimitBytes = int64(bodyLimit)
	cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	collect(err)

	return cfg, errors.Join(errs...)
}
