package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Barz/internal/adapters/backend"
	router "github.com/dkeye/Barz/internal/adapters/http"
	"github.com/dkeye/Barz/internal/adapters/realtime"
	"github.com/dkeye/Barz/internal/adapters/rtc"
	"github.com/dkeye/Barz/internal/adapters/store"
	"github.com/dkeye/Barz/internal/app"
	"github.com/dkeye/Barz/internal/app/connectivity"
	"github.com/dkeye/Barz/internal/app/session"
	"github.com/dkeye/Barz/internal/config"
	"github.com/dkeye/Barz/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, v, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLevel(cfg.LogLevel)
	config.Watch(v, func(c *config.Config) { setLevel(c.LogLevel) })

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("client failed")
	}
	log.Info().Msg("Client exited gracefully")
}

func setLevel(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}

func run(ctx context.Context, cfg *config.Config) error {
	user, err := backend.UserID(cfg.API.Token)
	if err != nil {
		return fmt.Errorf("api token: %w", err)
	}
	clock := clockwork.NewRealClock()

	gw := backend.New(backend.Options{
		BaseURL:    cfg.API.BaseURL,
		Token:      cfg.API.Token,
		Timeout:    cfg.API.Timeout,
		AppVersion: cfg.API.AppVersion,
		AppBuild:   cfg.API.AppBuild,
	})
	channels := realtime.New(realtime.Options{
		URL:            cfg.Realtime.URL,
		ReadLimit:      cfg.Realtime.ReadLimit,
		PingPeriod:     cfg.Realtime.PingPeriod,
		ReconnectDelay: cfg.Realtime.ReconnectDelay,
		Authorizer:     gw,
	})
	call, err := rtc.NewCall(rtc.CallOptions{
		SignalURL:         cfg.Video.SignalURL,
		STUN:              cfg.Video.STUN,
		ReconnectInterval: cfg.Video.ReconnectInterval,
		Beat: rtc.NewBeatPlayer(rtc.BeatOptions{
			Dir:     cfg.Video.CacheDir,
			Retries: cfg.Video.BeatRetries,
			Volume:  cfg.Video.BeatVolume,
		}),
	})
	if err != nil {
		return fmt.Errorf("video call: %w", err)
	}

	var prober connectivity.Prober
	if cfg.Connectivity.ProbeAddr != "" {
		prober = connectivity.TCPProber{Addr: cfg.Connectivity.ProbeAddr, Timeout: cfg.Connectivity.ProbeTimeout}
	}
	monitor := connectivity.New(connectivity.Options{Clock: clock, Prober: prober, Interval: cfg.Connectivity.ProbeInterval})

	st, closeStore := openStore(ctx, cfg, clock)
	defer closeStore()

	sess, err := session.New(session.Deps{
		Gateway:  gw,
		Channels: channels,
		Video:    call,
		Perms:    rtc.StaticPermissions{Granted: cfg.Media.PermissionsGranted},
		Net:      monitor,
		Store:    st,
		Clock:    clock,
		Policy:   app.ThresholdPolicy{Unmatched: cfg.Matching.OfflineThreshold, Matched: cfg.Battle.ForfeitThreshold},
	}, session.Options{
		UserID:             user,
		Algorithm:          domain.MatchingAlgorithm(cfg.Matching.Algorithm),
		AutoReady:          cfg.Matching.AutoReady,
		ChallengeAutoReady: cfg.Matching.ChallengePrivacyAutoReady,
		CoinToss:           cfg.Battle.CoinToss,
		Summary:            cfg.Battle.Summary,
		EventRetry:         cfg.Battle.EventRetry,
		CheckinInterval:    cfg.Heartbeat.Interval,
		RequestTimeout:     cfg.API.Timeout,
	})
	if err != nil {
		return err
	}

	r := router.SetupRouter(ctx, router.Options{Mode: cfg.Mode, Secret: cfg.Secret}, sess, monitor)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() { logExit("realtime", channels.Run(ctx)) })
	wg.Go(func() { logExit("connectivity", monitor.Run(ctx)) })
	wg.Go(func() { logExit("session", sess.Run(ctx)) })
	wg.Go(func() {
		log.Info().Str("addr", addr).Str("user", string(user)).Msg("Barz client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control api error")
		}
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Control API forced to shutdown")
	}
	wg.Wait()
	return ctx.Err()
}

func openStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (store.Store, func()) {
	if cfg.Store.RedisAddr == "" {
		return store.NewMemoryStore(clock, cfg.Store.TTL), func() {}
	}
	rs, err := store.NewRedisStore(ctx, store.RedisOptions{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
		TTL:      cfg.Store.TTL,
	})
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Store.RedisAddr).Msg("redis unavailable, keeping session snapshots in memory")
		return store.NewMemoryStore(clock, cfg.Store.TTL), func() {}
	}
	return rs, func() {
		if err := rs.Close(); err != nil {
			log.Error().Err(err).Msg("close redis")
		}
	}
}

func logExit(what string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("component", what).Msg("stopped with error")
	}
}
