package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:      AppConfig{Environment: "development"},
		Logger:   LoggerConfig{Level: "info"},
		Archives: ArchivesConfig{BooksPath: "/books", MaxEntryBytes: 1 << 20},
		Catalog:  CatalogConfig{MappingsTable: "book_archives"},
		Covers:   CoversConfig{CachePath: "/cache/covers", Concurrency: 3},
		Convert:  ConvertConfig{CachePath: "/cache/conversions", Timeout: time.Minute},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_MappingsTable(t *testing.T) {
	tests := []struct {
		table string
		valid bool
	}{
		{"book_archives", true},
		{"libfilename", true},
		{"books; DROP TABLE x", false},
		{"1table", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			cfg := validConfig()
			cfg.Catalog.MappingsTable = tt.table

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, 1, ClampConcurrency(0))
	assert.Equal(t, 1, ClampConcurrency(-4))
	assert.Equal(t, 5, ClampConcurrency(5))
	assert.Equal(t, 8, ClampConcurrency(64))
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := LoadConfig([]string{"-cache-path", filepath.Join(dir, "cache")})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, filepath.Join(dir, "books"), cfg.Archives.BooksPath)
	assert.Equal(t, cfg.Archives.BooksPath, cfg.Archives.CoverArchivesPath)
	assert.Equal(t, filepath.Join(dir, "cache", "covers"), cfg.Covers.CachePath)
	assert.Equal(t, filepath.Join(dir, "cache", "conversions"), cfg.Convert.CachePath)
	assert.Equal(t, filepath.Join(dir, "cache", "catalog.db"), cfg.Catalog.DatabasePath)
	assert.Equal(t, DefaultCoverConcurrency, cfg.Covers.Concurrency)
	assert.Equal(t, 180*time.Second, cfg.Convert.Timeout)
	assert.False(t, cfg.Convert.Enabled)
	assert.Equal(t, "ebook-convert", cfg.Convert.EbookConvertPath)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
}

func TestLoadConfig_CoverArchivesFollowExpandedBooksPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := LoadConfig([]string{"-cache-path", "cache", "-books-path", "lib"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lib"), cfg.Archives.BooksPath)
	assert.Equal(t, filepath.Join(dir, "lib"), cfg.Archives.CoverArchivesPath)
	assert.True(t, filepath.IsAbs(cfg.Covers.CachePath))
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("BOOKS_PATH", filepath.Join(dir, "env-books"))
	t.Setenv("COVERS_CONCURRENCY", "20")
	t.Setenv("ENABLE_CALIBRE", "yes")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"# comment\nCALIBRE_URL=\"http://user:pw@calibre:7090\"\nBOOKS_PATH=/ignored\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CALIBRE_URL") })

	cfg, err := LoadConfig([]string{
		"-env-file", envFile,
		"-conversion-timeout-ms", "2500",
		"-cache-path", filepath.Join(dir, "c"),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "env-books"), cfg.Archives.BooksPath, "env beats .env file")
	assert.Equal(t, "http://user:pw@calibre:7090", cfg.Convert.RemoteURL)
	assert.Equal(t, 8, cfg.Covers.Concurrency, "clamped")
	assert.True(t, cfg.Convert.Enabled)
	assert.Equal(t, 2500*time.Millisecond, cfg.Convert.Timeout, "flag beats default")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_READ_TIMEOUT", "soon")

	_, err := LoadConfig(nil)
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/books", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "books"), got)

	got, err = expandPath("", "/default")
	require.NoError(t, err)
	assert.Equal(t, "/default", got)
}
