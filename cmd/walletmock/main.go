package main

import (
	"context"
	"fmt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"
	"metalink/internal/app/logger"
	mw "metalink/internal/app/middleware"
	"net/http"
	"os"
	"os/signal"
	"time"
)

func main() {
	// setting up signal capturing
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		osCall := <-stop
		logger.Global().Info().Str("signal", fmt.Sprintf("%+v", osCall)).Msg("System call")
		cancel()
	}()

	listenAddr := pflag.StringP("listen-addr", "a", "127.0.0.1:8545", "Address to listen on")
	chainID := pflag.String("chain-id", "0xaa36a7", "Chain id reported by eth_chainId")
	confirmAfter := pflag.Duration("confirm-after", 3*time.Second, "Delay before a transfer gets a receipt")
	failRate := pflag.Float64("fail-rate", 0.1, "Share of transfers that revert")
	pflag.Parse()

	l := logger.New(true, true)

	n := newNode(*chainID, *confirmAfter, *failRate)
	if err := runServer(ctx, *listenAddr, n, l); err != nil {
		l.Fatal().Err(err).Msg("Server run failed")
	}
}

func runServer(ctx context.Context, listenAddr string, n *node, l logger.Logger) (err error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(mw.Log(l))
	r.Post("/", n.ServeRPC)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: r,
	}

	go func() {
		l.Info().Str("listen_address", listenAddr).Msg("Listening incoming connections")
		if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("")
		}
	}()

	<-ctx.Done()
	l.Info().Msg("Server stopped")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
