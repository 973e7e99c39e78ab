package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
	"github.com/sadontsev/flibusta-sub001/internal/store/sqlite"
)

// StoreHandle wraps the catalog store with Shutdownable.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the catalog and imports the shard mapping dump, if
// one is configured.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(filepath.Dir(cfg.Catalog.DatabasePath), 0o750); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	st, err := sqlite.Open(cfg.Catalog.DatabasePath, log.Logger,
		sqlite.WithMappingsTable(cfg.Catalog.MappingsTable))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if cfg.Catalog.MappingsSQLPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if _, err := st.ImportMappings(ctx, cfg.Catalog.MappingsSQLPath); err != nil {
			// Lookups fall back to scanning the shard directory.
			log.Warn("Failed to import shard mappings", "path", cfg.Catalog.MappingsSQLPath, "error", err)
		}
	}

	log.Info("Catalog opened", "path", cfg.Catalog.DatabasePath)
	return &StoreHandle{Store: st}, nil
}
