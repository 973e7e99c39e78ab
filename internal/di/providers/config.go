// Package providers contains dependency injection providers for the archive
// server.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Debug("Configuration loaded",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"books_path", cfg.Archives.BooksPath,
		"cover_archives_path", cfg.Archives.CoverArchivesPath,
		"database_path", cfg.Catalog.DatabasePath,
	)

	return log, nil
}
