// Package di provides dependency injection configuration for the archive
// server and its tools.
package di

import (
	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/di/providers"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
	"github.com/sadontsev/flibusta-sub001/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
// Nothing is constructed until it is invoked.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideEventManager)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideCaches)
	do.Provide(injector, providers.ProvideLocator)
	do.Provide(injector, providers.ProvideResolver)

	// Business services
	do.Provide(injector, providers.ProvideBookService)
	do.Provide(injector, providers.ProvideCoverService)
	do.Provide(injector, providers.ProvideConversionService)

	// Workers
	do.Provide(injector, providers.ProvideArchiveWatcher)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and starts the watcher and the HTTP
// server.
func Bootstrap(injector *do.RootScope) error {
	for _, invoke := range []func(do.Injector) error{
		invokeAs[*logger.Logger],
		invokeAs[*providers.EventManagerHandle],
		invokeAs[*providers.StoreHandle],
		invokeAs[*providers.Caches],
		invokeAs[*service.BookService],
		invokeAs[*providers.CoverServiceHandle],
		invokeAs[*service.ConversionService],
		invokeAs[*providers.ArchiveWatcherHandle],
		invokeAs[*providers.HTTPServerHandle],
	} {
		if err := invoke(injector); err != nil {
			return err
		}
	}
	return nil
}

func invokeAs[T any](i do.Injector) error {
	_, err := do.Invoke[T](i)
	return err
}
