package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/salon-booking-engine/internal/app"
	"github.com/hackgods/salon-booking-engine/internal/appointment"
	"github.com/hackgods/salon-booking-engine/internal/config"
	"github.com/hackgods/salon-booking-engine/internal/logging"
	"github.com/hackgods/salon-booking-engine/internal/metrics"
	"github.com/hackgods/salon-booking-engine/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "notify-worker").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("notify-worker starting up")

	if cfg.StoreBackend == config.StoreBackendMemory || cfg.RedisAddr == "" {
		logger.Fatal().Msg("notify-worker needs the postgres store and redis")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	rt, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	srv := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.NotifyQueue: 1},
		Logger:      asynqLogger{logger.With().Str("component", "asynq").Logger()},
		LogLevel:    asynq.WarnLevel,
	})
	if err := srv.Start(notify.NewServeMux(app.NewSender(cfg, logger), logger)); err != nil {
		logger.Fatal().Err(err).Msg("task server start failed")
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		sweep(gctx, rt.Service, logger)

		ticker := time.NewTicker(cfg.WorkerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				logger.Info().Msg("shutdown signal received, stopping sweeps")
				return nil
			case <-ticker.C:
				sweep(gctx, rt.Service, logger)
			}
		}
	})
	if cfg.MetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
	}
	srv.Shutdown()
	logger.Info().Msg("notify-worker stopped")
}

// sweep sends due reminders and retries reservations waiting for a new slot.
func sweep(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := svc.SendDueReminders(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("reminder sweep failed")
	}
	resolved, err := svc.ResolveOutstanding(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("reschedule sweep failed")
	}
	logger.Info().
		Int("reminders", sent).
		Int("resolved", resolved).
		Dur("took", time.Since(start)).
		Msg("sweep complete")
}

// asynqLogger routes asynq's logging through zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
