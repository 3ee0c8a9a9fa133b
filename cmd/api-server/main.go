package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/scheduling/internal/api"
	"github.com/carelink/scheduling/internal/booking"
	"github.com/carelink/scheduling/internal/cache"
	"github.com/carelink/scheduling/internal/config"
	"github.com/carelink/scheduling/internal/db"
	"github.com/carelink/scheduling/internal/metrics"
	"github.com/carelink/scheduling/internal/schedule"
)

const version = "1.2.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis; the service degrades to uncached slot reads without it.
	var slotCache cache.SlotCache = cache.Noop{}
	rdb, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, slot cache disabled")
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		slotCache = cache.NewRedisSlotCache(rdb, cfg.SlotCacheTTL, log)
		log.Info().Msg("connected to Redis")
	}

	m := metrics.New("scheduling-api")

	scheduleRepo := schedule.NewPgRepository(pgPool)
	bookingRepo := booking.NewPgRepository(pgPool)

	scheduleSvc := schedule.NewService(scheduleRepo, bookingRepo, slotCache, log)
	bookingSvc := booking.NewService(
		bookingRepo,
		scheduleSvc,
		booking.NewHMACGate(cfg.PaymentSecret),
		booking.NewLogNotifier(log),
		slotCache,
		m,
		booking.Config{
			HoldTTL:            cfg.HoldTTL,
			CancellationWindow: cfg.CancellationWindow,
			ConsultationFee:    cfg.ConsultationFee,
		},
		log,
	)

	router := api.NewRouter(api.RouterConfig{
		Schedule: scheduleSvc,
		Booking:  bookingSvc,
		PgPool:   pgPool,
		Redis:    rdb,
		Metrics:  m,
		Log:      log,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("api-server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.Env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return log
}
