package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/edgerpc/internal/config"
	"github.com/danmuck/edgerpc/internal/observability"
	"github.com/danmuck/edgerpc/internal/server"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

var version = "dev"

func main() {
	path := flag.String("config", "cmd/edgerpcd/config.toml", "server config path")
	flag.Parse()

	logger := observability.InitLogger("edgerpcd")
	cfg, err := loadServerConfig(*path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", *path).Msg("edgerpcd config not found, using defaults")
		cfg, err = config.DefaultServerConfig(), nil
	}
	if err == nil {
		err = config.ValidateServerConfig(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgerpcd: %v\n", err)
		os.Exit(1)
	}

	if cfg.Tracing {
		tp := observability.NewTracerProvider(logger)
		otel.SetTracerProvider(tp)
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	srv, err := server.New(cfg, server.Options{Version: version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgerpcd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Info().
		Str("name", cfg.Name).
		Str("http", cfg.HTTPAddr).
		Str("stream", cfg.StreamAddr).
		Str("progress", cfg.Progress).
		Msg("edgerpcd starting")
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("edgerpcd stopped")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("edgerpcd shutdown")
}
