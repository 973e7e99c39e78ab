package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/api"
	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
	"github.com/sadontsev/flibusta-sub001/internal/service"
	"github.com/sadontsev/flibusta-sub001/internal/sse"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	api *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	defer h.api.Close()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server and starts it in the background.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	books := do.MustInvoke[*service.BookService](i)
	covers := do.MustInvoke[*CoverServiceHandle](i)
	conversions := do.MustInvoke[*service.ConversionService](i)
	events := do.MustInvoke[*EventManagerHandle](i)

	services := &api.Services{
		Books:       books,
		Covers:      covers.CoverService,
		Conversions: conversions,
		Events:      sse.NewHandler(events.Manager, log.Logger),
	}
	if cfg.Convert.Enabled {
		services.Converter = conversions
	}

	handler := api.NewServer(services, api.Config{
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		DownloadsPerMinute: cfg.Server.DownloadRate,
	}, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Event streams never finish on their own.
	srv.RegisterOnShutdown(events.DisconnectAll)

	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv, api: handler}, nil
}
