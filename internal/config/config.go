// Package config loads application configuration from command-line flags,
// environment variables and an optional .env file.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Server   ServerConfig
	Archives ArchivesConfig
	Catalog  CatalogConfig
	Covers   CoversConfig
	Convert  ConvertConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// DownloadRate is the per-client conversion request rate (requests/minute).
	DownloadRate int
	// AllowedOrigins is the CORS allow list; empty allows any origin.
	AllowedOrigins []string
}

// ArchivesConfig locates the zip shards.
type ArchivesConfig struct {
	// BooksPath is the directory holding the book shards.
	BooksPath string
	// CoverArchivesPath holds dedicated cover archives (default: BooksPath).
	CoverArchivesPath string
	// UnzipPath is the external lister used when the in-process reader fails.
	UnzipPath string
	// MaxEntryBytes caps the size of one extracted entry.
	MaxEntryBytes int64
	// ScanTTL bounds how long a directory listing is reused without a
	// watcher event.
	ScanTTL time.Duration
}

// CatalogConfig describes the read-only catalog database.
type CatalogConfig struct {
	// DatabasePath is the sqlite catalog file (default: {cache}/catalog.db).
	DatabasePath string
	// MappingsSQLPath is an SQL dump imported into the mapping table at startup.
	MappingsSQLPath string
	// MappingsTable names the shard-mapping table.
	MappingsTable string
}

// CoversConfig configures the cover cache and the bulk job.
type CoversConfig struct {
	// CachePath is the cover directory (default: {cache}/covers).
	CachePath string
	// Concurrency bounds background extractions, clamped to 1..8.
	Concurrency int
	// PrecacheRate paces the bulk job in items per second; 0 disables pacing.
	PrecacheRate float64
	// PrecacheSchedule is an optional cron expression for a missing-mode run.
	PrecacheSchedule string
	// PrecacheLimit is the limit used by scheduled runs.
	PrecacheLimit int
}

// ConvertConfig configures format conversion.
type ConvertConfig struct {
	// CachePath is the conversion directory (default: {cache}/conversions).
	CachePath string
	// Enabled turns the external converter on.
	Enabled bool
	// EbookConvertPath is the local converter binary.
	EbookConvertPath string
	// RemoteURL is the converter service base URL; userinfo becomes basic auth.
	RemoteURL string
	// Timeout is the hard limit for one external conversion.
	Timeout time.Duration
}

// Cover concurrency bounds.
const (
	MinCoverConcurrency     = 1
	MaxCoverConcurrency     = 8
	DefaultCoverConcurrency = 3
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type flagValues struct {
	env, logLevel, envFile                               *string
	port, readTimeout, writeTimeout, idleTimeout         *string
	booksPath, coverArchivesPath, cachePath, unzipPath   *string
	databasePath, mappingsSQLPath, mappingsTable         *string
	coversCachePath, coversConcurrency, precacheSchedule *string
	conversionsCachePath, calibreEnabled, calibreURL     *string
	ebookConvert, conversionTimeout                      *string
}

func defineFlags(fs *flag.FlagSet) *flagValues {
	return &flagValues{
		env:                  fs.String("env", "", "Environment (development, staging, production)"),
		logLevel:             fs.String("log-level", "", "Log level (debug, info, warn, error)"),
		envFile:              fs.String("env-file", ".env", "Path to .env file"),
		port:                 fs.String("port", "", "Server port (default: 8080)"),
		readTimeout:          fs.String("read-timeout", "", "HTTP read timeout (default: 15s)"),
		writeTimeout:         fs.String("write-timeout", "", "HTTP write timeout (default: 60s)"),
		idleTimeout:          fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)"),
		booksPath:            fs.String("books-path", "", "Directory holding the book archives"),
		coverArchivesPath:    fs.String("cover-archives-path", "", "Directory holding dedicated cover archives"),
		cachePath:            fs.String("cache-path", "", "Cache root directory"),
		unzipPath:            fs.String("unzip-path", "", "External unzip binary (default: unzip)"),
		databasePath:         fs.String("database-path", "", "Catalog database file"),
		mappingsSQLPath:      fs.String("mappings-sql", "", "SQL dump with shard mappings"),
		mappingsTable:        fs.String("mappings-table", "", "Shard mapping table name"),
		coversCachePath:      fs.String("covers-cache-path", "", "Cover cache directory"),
		coversConcurrency:    fs.String("covers-concurrency", "", "Background cover extractions (1-8)"),
		precacheSchedule:     fs.String("precache-schedule", "", "Cron expression for scheduled cover precaching"),
		conversionsCachePath: fs.String("conversions-cache-path", "", "Conversion cache directory"),
		calibreEnabled:       fs.String("enable-calibre", "", "Enable the external converter"),
		calibreURL:           fs.String("calibre-url", "", "Converter service URL"),
		ebookConvert:         fs.String("ebook-convert", "", "Local converter binary"),
		conversionTimeout:    fs.String("conversion-timeout-ms", "", "Conversion timeout in milliseconds"),
	}
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags in args (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("flibusta", flag.ContinueOnError)
	f := defineFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Missing .env files are fine.
	_ = loadEnvFile(*f.envFile)

	cachePath := getConfigValue(*f.cachePath, "CACHE_PATH", "./cache")

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*f.env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*f.logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:           getConfigValue(*f.port, "SERVER_PORT", "8080"),
			DownloadRate:   getIntConfigValue("", "DOWNLOAD_RATE_PER_MINUTE", 30),
			AllowedOrigins: splitList(getConfigValue("", "CORS_ALLOWED_ORIGINS", "")),
		},
		Archives: ArchivesConfig{
			BooksPath:         getConfigValue(*f.booksPath, "BOOKS_PATH", "./books"),
			CoverArchivesPath: getConfigValue(*f.coverArchivesPath, "COVER_ARCHIVES_PATH", ""),
			UnzipPath:         getConfigValue(*f.unzipPath, "UNZIP_PATH", "unzip"),
			MaxEntryBytes:     int64(getIntConfigValue("", "MAX_ENTRY_BYTES", 256<<20)),
		},
		Catalog: CatalogConfig{
			DatabasePath:    getConfigValue(*f.databasePath, "DATABASE_PATH", ""),
			MappingsSQLPath: getConfigValue(*f.mappingsSQLPath, "MAPPINGS_SQL_PATH", ""),
			MappingsTable:   getConfigValue(*f.mappingsTable, "MAPPINGS_TABLE", "book_archives"),
		},
		Covers: CoversConfig{
			CachePath:        getConfigValue(*f.coversCachePath, "COVERS_CACHE_PATH", ""),
			Concurrency:      ClampConcurrency(getIntConfigValue(*f.coversConcurrency, "COVERS_CONCURRENCY", DefaultCoverConcurrency)),
			PrecacheRate:     getFloatConfigValue("", "COVERS_PRECACHE_RATE", 0),
			PrecacheSchedule: getConfigValue(*f.precacheSchedule, "COVERS_PRECACHE_SCHEDULE", ""),
			PrecacheLimit:    getIntConfigValue("", "COVERS_PRECACHE_LIMIT", 500),
		},
		Convert: ConvertConfig{
			CachePath:        getConfigValue(*f.conversionsCachePath, "CONVERSIONS_CACHE_PATH", ""),
			Enabled:          getBoolConfigValue(*f.calibreEnabled, "ENABLE_CALIBRE", false),
			EbookConvertPath: getConfigValue(*f.ebookConvert, "CALIBRE_EBOOK_CONVERT", "ebook-convert"),
			RemoteURL:        getConfigValue(*f.calibreURL, "CALIBRE_URL", ""),
			Timeout: time.Duration(getIntConfigValue(*f.conversionTimeout,
				"CALIBRE_CONVERSION_TIMEOUT_MS", 180000)) * time.Millisecond,
		},
	}

	durations := []struct {
		flagValue, envKey, def string
		dst                    *time.Duration
	}{
		{*f.readTimeout, "SERVER_READ_TIMEOUT", "15s", &cfg.Server.ReadTimeout},
		{*f.writeTimeout, "SERVER_WRITE_TIMEOUT", "60s", &cfg.Server.WriteTimeout},
		{*f.idleTimeout, "SERVER_IDLE_TIMEOUT", "60s", &cfg.Server.IdleTimeout},
		{"", "ARCHIVE_SCAN_TTL", "5m", &cfg.Archives.ScanTTL},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagValue, d.envKey, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandPaths(cachePath); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Archives.BooksPath == "" {
		return errors.New("BOOKS_PATH cannot be empty")
	}
	if c.Covers.CachePath == "" || c.Convert.CachePath == "" {
		return errors.New("cache paths cannot be empty after expansion")
	}
	if !identifierPattern.MatchString(c.Catalog.MappingsTable) {
		return fmt.Errorf("invalid MAPPINGS_TABLE %q", c.Catalog.MappingsTable)
	}
	if c.Convert.Timeout <= 0 {
		return errors.New("CALIBRE_CONVERSION_TIMEOUT_MS must be positive")
	}
	if c.Archives.MaxEntryBytes <= 0 {
		return errors.New("MAX_ENTRY_BYTES must be positive")
	}
	if c.Covers.PrecacheRate < 0 {
		return errors.New("COVERS_PRECACHE_RATE cannot be negative")
	}

	return nil
}

// ClampConcurrency bounds n to the supported cover pool size.
func ClampConcurrency(n int) int {
	return max(MinCoverConcurrency, min(n, MaxCoverConcurrency))
}

func (c *Config) expandPaths(cachePath string) error {
	root, err := expandPath(cachePath, "")
	if err != nil {
		return fmt.Errorf("invalid cache path: %w", err)
	}

	paths := []struct {
		name string
		dst  *string
		def  string
	}{
		{"books path", &c.Archives.BooksPath, ""},
		{"cover archives path", &c.Archives.CoverArchivesPath, ""},
		{"database path", &c.Catalog.DatabasePath, filepath.Join(root, "catalog.db")},
		{"mappings sql path", &c.Catalog.MappingsSQLPath, ""},
		{"covers cache path", &c.Covers.CachePath, filepath.Join(root, "covers")},
		{"conversions cache path", &c.Convert.CachePath, filepath.Join(root, "conversions")},
	}
	for _, p := range paths {
		expanded, err := expandPath(*p.dst, p.def)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", p.name, err)
		}
		*p.dst = expanded
	}
	// The cover archives default follows the expanded books path.
	if c.Archives.CoverArchivesPath == "" {
		c.Archives.CoverArchivesPath = c.Archives.BooksPath
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned as is.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
