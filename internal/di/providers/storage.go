package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/archive"
	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/convert"
	"github.com/sadontsev/flibusta-sub001/internal/diskcache"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// Caches groups the on-disk caches.
type Caches struct {
	Covers      *diskcache.Cache
	Conversions *diskcache.Cache
}

// ProvideCaches provides the cover and conversion caches.
func ProvideCaches(i do.Injector) (*Caches, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	covers, err := diskcache.New(cfg.Covers.CachePath)
	if err != nil {
		return nil, fmt.Errorf("cover cache: %w", err)
	}
	conversions, err := diskcache.New(cfg.Convert.CachePath, diskcache.WithMinSize(convert.MinOutputSize))
	if err != nil {
		return nil, fmt.Errorf("conversion cache: %w", err)
	}

	log.Info("Caches initialized", "covers", covers.Dir(), "conversions", conversions.Dir())
	return &Caches{Covers: covers, Conversions: conversions}, nil
}

// ProvideLocator provides the shard locator over the catalog mappings.
func ProvideLocator(i do.Injector) (*archive.Locator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	st := do.MustInvoke[*StoreHandle](i)

	return archive.NewLocator(st.Store, cfg.Archives.BooksPath, log.Logger,
		archive.WithScanTTL(cfg.Archives.ScanTTL)), nil
}

// ProvideResolver provides the archive entry resolver.
func ProvideResolver(i do.Injector) (*archive.Resolver, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	st := do.MustInvoke[*StoreHandle](i)

	opener := archive.NewOpener(log.Logger,
		archive.WithUnzip(cfg.Archives.UnzipPath),
		archive.WithMaxEntryBytes(cfg.Archives.MaxEntryBytes))
	return archive.NewResolver(st.Store, opener, log.Logger), nil
}
