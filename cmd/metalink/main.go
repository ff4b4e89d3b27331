package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"golang.org/x/sync/errgroup"
	"metalink/internal/app/app"
	"metalink/internal/app/config"
	"metalink/internal/app/logger"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := config.New()
	if err := c.Load(); err != nil {
		logger.Global().Fatal().Err(err).Msg("Config load failed")
	}

	if err := runServer(ctx, c); err != nil {
		logger.Global().Fatal().Err(err).Msg("Server run failed")
	}
}

func runServer(ctx context.Context, c config.Config) error {
	l := logger.New(c.LogVerbose, c.LogPretty)

	a, err := app.New(c, l, embedMigrations)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}
	defer a.Stop()

	srv := &http.Server{
		Addr:         c.Server.Listen,
		Handler:      a.Router(),
		ReadTimeout:  c.Server.TimeoutRead,
		WriteTimeout: c.Server.TimeoutWrite,
		IdleTimeout:  c.Server.TimeoutIdle,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Syncer().Serve(gctx)
	})

	g.Go(func() error {
		l.Info().Str("listen_address", c.Server.Listen).Msg("Listening incoming connections")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("Server stopped")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctxShutdown); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	l.Info().Msg("Server exited properly")

	return nil
}
