// Command convertd exposes an ebook-convert compatible binary over HTTP so
// the API server can hand conversions to a separate container.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/convert"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	cfg, err := config.LoadConverterServiceConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.LogLevel),
		Environment: cfg.Environment,
	})

	if err := run(cfg, log.Logger); err != nil {
		log.Error("convertd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.ConverterServiceConfig, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	local := convert.NewLocal(cfg.Binary,
		convert.WithTimeout(cfg.Timeout),
		convert.WithTempDir(cfg.WorkDir),
		convert.WithLogger(log))

	probeCtx, probeCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := local.Probe(probeCtx); err != nil {
		log.Warn("converter binary not usable yet", slog.String("binary", cfg.Binary), slog.Any("error", err))
	}
	probeCancel()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(local, cfg.MaxBodyBytes, log),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Timeout + time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("convertd listening", slog.String("addr", srv.Addr), slog.String("binary", cfg.Binary))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("convertd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
