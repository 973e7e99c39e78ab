package config

import (
	"errors"
	"fmt"
	"time"
)

// ConverterServiceConfig configures the standalone converter service.
type ConverterServiceConfig struct {
	Environment string
	LogLevel    string
	Port        string
	// Binary is the ebook-convert compatible executable.
	Binary string
	// Timeout is the hard limit for one conversion.
	Timeout time.Duration
	// MaxBodyBytes caps the accepted upload size.
	MaxBodyBytes int64
	// WorkDir holds per-request work directories (default: system temp).
	WorkDir string
}

// LoadConverterServiceConfig reads the converter service settings from the
// environment and an optional .env file.
func LoadConverterServiceConfig(envFile string) (*ConverterServiceConfig, error) {
	if envFile != "" {
		// Missing .env files are fine.
		_ = loadEnvFile(envFile)
	}

	cfg := &ConverterServiceConfig{
		Environment:  getConfigValue("", "ENV", "development"),
		LogLevel:     getConfigValue("", "LOG_LEVEL", "info"),
		Port:         getConfigValue("", "CALIBRE_HTTP_PORT", "7090"),
		Binary:       getConfigValue("", "CALIBRE_EBOOK_CONVERT", "ebook-convert"),
		Timeout:      time.Duration(getIntConfigValue("", "CALIBRE_CONVERSION_TIMEOUT", 180)) * time.Second,
		MaxBodyBytes: int64(getIntConfigValue("", "MAX_ENTRY_BYTES", 256<<20)),
		WorkDir:      getConfigValue("", "CALIBRE_WORK_DIR", ""),
	}

	if cfg.Timeout <= 0 {
		return nil, errors.New("CALIBRE_CONVERSION_TIMEOUT must be positive")
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, errors.New("MAX_ENTRY_BYTES must be positive")
	}
	if cfg.Binary == "" {
		return nil, errors.New("CALIBRE_EBOOK_CONVERT cannot be empty")
	}
	if _, err := fmt.Sscanf(cfg.Port, "%d", new(int)); err != nil {
		return nil, fmt.Errorf("invalid CALIBRE_HTTP_PORT %q", cfg.Port)
	}
	return cfg, nil
}
