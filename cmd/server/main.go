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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/huddle/internal/adapters/http"
	"github.com/dkeye/huddle/internal/adapters/rtc"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/engine"
	"github.com/dkeye/huddle/internal/engine/memory"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// zerolog first so config.Load can log.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func newEngine(cfg *config.Config) engine.Engine {
	if cfg.Engine == config.EngineWebRTC {
		opts := rtc.DefaultOptions()
		opts.ICEServers = cfg.ICEServers
		opts.GatherTimeout = cfg.GatherTimeout
		return rtc.New(opts)
	}
	return memory.New()
}

func run(ctx context.Context, cfg *config.Config) error {
	eng := newEngine(cfg)
	rooms := app.NewRoomManager(eng)
	o := orch.New(app.NewRegistry(), rooms, app.NewPolicy(cfg.DropBudget))

	// connection contexts derive from gctx, so a fatal error also ends every
	// signaling session
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router.SetupRouter(gctx, cfg, o),
	}
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("engine", cfg.Engine).Msg("huddle server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-o.Fatal():
			return err
		case <-eng.Done():
			return fmt.Errorf("media engine failed: %w", eng.Err())
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		rooms.Close()
		return eng.Close()
	})
	return g.Wait()
}
