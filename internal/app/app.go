// Package app assembles the booking service from configuration. The api
// server and the notify worker share it so both see the same store, lock
// and notification wiring.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/appointment"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/config"
	"github.com/hackgods/salon-booking-engine/internal/db"
	"github.com/hackgods/salon-booking-engine/internal/notify"
	redisclient "github.com/hackgods/salon-booking-engine/internal/redis"
)

type Runtime struct {
	Service *appointment.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	// Memory is set for the in-memory backend.
	Memory *appointment.MemoryStore

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// New connects the configured backends and builds the service.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var deps appointment.Deps
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		cal, err := initialCalendar(cfg)
		if err != nil {
			return nil, err
		}
		store := appointment.NewMemoryStore(cal)
		rt.Memory = store
		deps = appointment.Deps{Store: store, Calendars: store, Catalog: store, Users: store}
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		rt.PgPool = pool
		rt.closers = append(rt.closers, pool.Close)
		logger.Info().Msg("connected to Postgres")

		if err := db.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		store := appointment.NewPgStore(pool)
		if err := EnsureCalendar(ctx, store, cfg, logger); err != nil {
			return nil, err
		}
		deps = appointment.Deps{Store: store, Calendars: store, Catalog: store, Users: store}
	}

	sender := NewSender(cfg, logger)
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		rt.Redis = rdb
		rt.closers = append(rt.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		})
		logger.Info().Msg("connected to Redis")

		deps.Locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)
		queue := notify.NewQueue(RedisOpt(cfg), cfg.NotifyQueue, cfg.NotifyMaxRetry, logger)
		rt.closers = append(rt.closers, func() { _ = queue.Close() })
		deps.Notifier = queue
	} else {
		logger.Warn().Msg("redis disabled, using in-process slot locks and direct notifications")
		deps.Locker = redisclient.NewLocalSlotLocker(cfg.LockTTL, cfg.LockWait)
		direct := notify.NewDirect(sender, logger)
		rt.closers = append(rt.closers, direct.Wait)
		deps.Notifier = direct
	}

	rt.Service = appointment.NewService(deps, cfg, logger)
	ok = true
	return rt, nil
}

// RedisOpt is the asynq connection for the notification queue.
func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	o := redisclient.Options(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	return asynq.RedisClientOpt{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		PoolSize:     o.PoolSize,
	}
}

// NewSender picks SMTP when configured, otherwise logs messages, and throttles either.
func NewSender(cfg config.Config, logger zerolog.Logger) notify.Sender {
	var sender notify.Sender
	if cfg.SMTPAddr != "" {
		sender = notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.NotifyFrom)
	} else {
		sender = notify.NewLogSender(logger)
	}
	if cfg.NotifyRate > 0 {
		sender = notify.NewRateLimitedSender(sender, cfg.NotifyRate, 1)
	}
	return sender
}

func initialCalendar(cfg config.Config) (*calendar.Calendar, error) {
	if cfg.CalendarFile == "" {
		return config.DefaultCalendar(), nil
	}
	cal, err := config.LoadCalendarFile(cfg.CalendarFile)
	if err != nil {
		return nil, fmt.Errorf("load calendar file: %w", err)
	}
	return cal, nil
}

// EnsureCalendar stores the initial calendar when the database has none.
// An existing calendar is never overwritten from the file.
func EnsureCalendar(ctx context.Context, store *appointment.PgStore, cfg config.Config, logger zerolog.Logger) error {
	_, err := store.LoadCalendar(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperr.ErrConfiguration) {
		return fmt.Errorf("load calendar: %w", err)
	}

	cal, err := initialCalendar(cfg)
	if err != nil {
		return err
	}
	saved, err := store.SaveCalendar(ctx, cal)
	if err != nil {
		return fmt.Errorf("save initial calendar: %w", err)
	}
	logger.Info().Int64("version", saved.Version).Str("source", cmp.Or(cfg.CalendarFile, "default")).Msg("calendar initialised")
	return nil
}
