package providers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/archive"
	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/convert"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
	"github.com/sadontsev/flibusta-sub001/internal/service"
)

// ProvideBookService provides the raw book service.
func ProvideBookService(i do.Injector) (*service.BookService, error) {
	log := do.MustInvoke[*logger.Logger](i)
	locator := do.MustInvoke[*archive.Locator](i)
	resolver := do.MustInvoke[*archive.Resolver](i)

	return service.NewBookService(locator, resolver, log.Logger), nil
}

// CoverServiceHandle wraps the cover service with Shutdownable.
type CoverServiceHandle struct {
	*service.CoverService
}

// Shutdown implements do.Shutdownable.
func (h *CoverServiceHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.CoverService.Shutdown(ctx)
}

// ProvideCoverService provides the cover cache and starts its schedule.
func ProvideCoverService(i do.Injector) (*CoverServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	st := do.MustInvoke[*StoreHandle](i)
	caches := do.MustInvoke[*Caches](i)
	books := do.MustInvoke[*service.BookService](i)
	resolver := do.MustInvoke[*archive.Resolver](i)
	events := do.MustInvoke[*EventManagerHandle](i)

	svc := service.NewCoverService(st.Store, books, resolver, caches.Covers, service.CoverServiceConfig{
		CoverArchivesPath: cfg.Archives.CoverArchivesPath,
		Concurrency:       cfg.Covers.Concurrency,
		PrecacheRate:      cfg.Covers.PrecacheRate,
		LockPath:          filepath.Join(caches.Covers.Dir(), ".precache.lock"),
	}, log.Logger)
	svc.SetProgressReporter(events.Manager)

	if cfg.Covers.PrecacheSchedule != "" {
		if err := svc.StartSchedule(cfg.Covers.PrecacheSchedule, cfg.Covers.PrecacheLimit); err != nil {
			return nil, err
		}
	}

	log.Info("Cover service initialized", "concurrency", cfg.Covers.Concurrency)
	return &CoverServiceHandle{CoverService: svc}, nil
}

// ProvideConversionService provides the conversion service with the
// configured external converter.
func ProvideConversionService(i do.Injector) (*service.ConversionService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	caches := do.MustInvoke[*Caches](i)
	books := do.MustInvoke[*service.BookService](i)

	external, prober, err := externalConverter(cfg, log)
	if err != nil {
		return nil, err
	}

	return service.NewConversionService(books, caches.Conversions, prober, external,
		convert.NewBuiltin(log.Logger), log.Logger), nil
}

// externalConverter returns nil values when the external converter is
// disabled. A remote URL takes precedence over the local binary.
func externalConverter(cfg *config.Config, log *logger.Logger) (convert.Converter, service.Availability, error) {
	if !cfg.Convert.Enabled {
		log.Info("External converter disabled, using built-in fb2 to epub only")
		return nil, nil, nil
	}

	if cfg.Convert.RemoteURL != "" {
		remote, err := convert.NewRemote(cfg.Convert.RemoteURL,
			convert.WithRemoteTimeout(cfg.Convert.Timeout),
			convert.WithRemoteLogger(log.Logger))
		if err != nil {
			return nil, nil, fmt.Errorf("converter: %w", err)
		}
		log.Info("Using remote converter", "endpoint", remote.Endpoint())
		return remote, convert.NewProber(remote.Probe, log.Logger), nil
	}

	local := convert.NewLocal(cfg.Convert.EbookConvertPath,
		convert.WithTimeout(cfg.Convert.Timeout),
		convert.WithLogger(log.Logger))
	log.Info("Using local converter", "binary", cfg.Convert.EbookConvertPath)
	return local, convert.NewProber(local.Probe, log.Logger), nil
}
