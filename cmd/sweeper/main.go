// The sweeper is housekeeping, not correctness: read paths already ignore
// expired holds, so this process only bounds row growth and advances
// lifecycle states whose time has come.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/scheduling/internal/booking"
	"github.com/carelink/scheduling/internal/cache"
	"github.com/carelink/scheduling/internal/config"
	"github.com/carelink/scheduling/internal/db"
	"github.com/carelink/scheduling/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "sweeper").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("sweeper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	slotCache := cache.NewRedisSlotCache(rdb, cfg.SlotCacheTTL, log)
	locker := cache.NewRedisSweepLocker(rdb, cfg.SweepLockTTL)

	bookingRepo := booking.NewPgRepository(pgPool)
	scheduleRepo := schedule.NewPgRepository(pgPool)
	scheduleSvc := schedule.NewService(scheduleRepo, bookingRepo, slotCache, log)

	svc := booking.NewService(
		bookingRepo,
		scheduleSvc,
		booking.NewHMACGate(cfg.PaymentSecret),
		booking.NewLogNotifier(log),
		slotCache,
		nil,
		booking.Config{
			HoldTTL:            cfg.HoldTTL,
			CancellationWindow: cfg.CancellationWindow,
			ConsultationFee:    cfg.ConsultationFee,
		},
		log,
	)

	// Run once at startup
	runOnce(rootCtx, svc, locker, log)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, locker, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, locker cache.SweepLocker, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	err := locker.WithSweepLock(runCtx, "scheduling", func(lockCtx context.Context) error {
		if err := svc.ExpireStalePending(lockCtx); err != nil {
			return err
		}
		if err := svc.CompleteElapsed(lockCtx); err != nil {
			return err
		}
		return svc.PurgeExpiredHolds(lockCtx)
	})
	if err != nil {
		if errors.Is(err, cache.ErrLockNotAcquired) {
			log.Debug().Msg("another sweeper holds the lock, skipping pass")
			return
		}
		log.Error().Err(err).Msg("sweep pass error")
		return
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("sweep pass complete")
}
