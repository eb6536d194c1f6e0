// Package main is the entry point for the AIFX signal pipeline: it
// synthesizes technical/ML trading signals per (pair, timeframe),
// detects notifiable changes, and fans them out to subscribers across
// WebSocket, Discord, LINE, and email.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aifx/signalcore/internal/app"
	"github.com/aifx/signalcore/internal/config"
	"github.com/aifx/signalcore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("starting signalcore")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire application")
	}

	go func() {
		if err := a.Run(ctx); err != nil {
			log.Error().Err(err).Msg("application run loop exited with error")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("signalcore started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, stopping gracefully")
	cancel()
	a.Stop(cfg.DispatchShutdownGrace + 10*time.Second)
	log.Info().Msg("signalcore stopped")
}
