package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/app"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/config"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/logging"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/tracing"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)

	shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build")
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: a.Handler, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Close(ctx2); err != nil {
		log.Error().Err(err).Msg("close")
	}
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}
