package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/app"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/config"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Service initialization failed")
	}
	defer application.Shutdown()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("Shutdown signal received")
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Service exited with error")
	}
}
