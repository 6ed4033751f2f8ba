package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"persistenceai/internal/app"
	"persistenceai/internal/cfg"
	"persistenceai/pkg/logger"
)

func main() {
	config, errCfg := cfg.Load()
	if errCfg != nil {
		log.Fatal(errCfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := app.NewProvider(ctx, config)
	if err != nil {
		log.Fatal(err)
	}
	zlog := provider.Infra.Logger

	server, err := app.NewServer(provider)
	if err != nil {
		_ = provider.Close(context.Background())
		log.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		zlog.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			zlog.Error(context.Background(), "server stopped", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := provider.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		zlog.Error(shutdownCtx, "shutdown failed", logger.Err(err))
		os.Exit(1)
	}
	zlog.Info(shutdownCtx, "shutdown complete")
}
