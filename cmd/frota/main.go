package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"frota/internal/backend"
	"frota/internal/cli"
	"frota/internal/config"
	apphttp "frota/internal/http"
	"frota/internal/live"
	"frota/internal/log"
	"frota/internal/middleware/ratelimit"
	"frota/internal/services"

	"golang.org/x/sync/errgroup"
)

func main() {
	tokenFor := flag.String("token", "", "print a bearer token for this account and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -token")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger, nil)

	if *tokenFor != "" {
		token, err := apphttp.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer).IssueToken(*tokenFor, *tokenTTL)
		if err != nil {
			logger.Error("Failed to issue token", log.FieldError, err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger).Open(ctx, bcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	var publisher services.Publisher
	if res.Publisher != nil {
		publisher = res.Publisher
	}
	fleet := services.NewFleetService(res.Store, publisher, logger)

	var sessions *live.Registry
	if cfg.LiveEnabled {
		sessions = live.NewRegistry(res.Store, cfg.SessionMax, cfg.SessionTTL, logger)
		sessions.Start(time.Minute)
		defer sessions.Close()
	}

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.Burst = cfg.RateLimitBurst
	srv := apphttp.NewServer(apphttp.Config{
		Addr:      cfg.Addr(),
		JWTSecret: cfg.JWTSecret,
		JWTIssuer: cfg.JWTIssuer,
		RateLimit: rl,
		LivePing:  cfg.LivePing,
	}, fleet, sessions, logger)

	g, gctx := errgroup.WithContext(ctx)
	if res.Signal != nil {
		g.Go(func() error {
			if err := res.Signal.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("redis change signal: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("Starting frota server",
			"port", cfg.Port,
			"backend", cfg.Backend,
			"live", cfg.LiveEnabled,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
