package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "spmirror.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const validConfig = `
[sharepoint]
tenant_id = "tenant-guid"
client_id = "client-guid"
client_secret = "s3cret"
site_hostname = "contoso.sharepoint.com"
site_path = "/sites/engineering"
library_name = "Documents"

[sync]
max_file_size_mb = 100
include_extensions = ["pdf", "docx"]
exclude_extensions = ["tmp"]
include_paths = ["/Reports"]
path_patterns = ["!draft-*", "*.pdf"]
metadata_only = false
verify_quickxor_hash = true

[storage]
blob_root = "/var/lib/spmirror/blobs"
database_path = "/var/lib/spmirror/catalog.db"

[logging]
log_level = "debug"
`

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "tenant-guid", cfg.SharePoint.TenantID)
	assert.Equal(t, "Documents", cfg.SharePoint.LibraryName)
	assert.Equal(t, int64(100), cfg.Sync.MaxFileSizeMB)
	assert.Equal(t, []string{"pdf", "docx"}, cfg.Sync.IncludeExtensions)
	assert.Equal(t, []string{"!draft-*", "*.pdf"}, cfg.Sync.PathPatterns)
	assert.True(t, cfg.Sync.VerifyQuickXor)
	assert.Equal(t, "/var/lib/spmirror/blobs", cfg.Storage.BlobRoot)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, `
[sharepoint]
tenant_id = "t"
client_id = "c"
client_secret = "s"
site_hostname = "h.sharepoint.com"
site_path = "/sites/x"
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, int64(defaultMaxFileMB), cfg.Sync.MaxFileSizeMB)
	assert.True(t, cfg.Sync.VerifyQuickXor)
	assert.Equal(t, "./instance/blobs", cfg.Storage.BlobRoot)
	assert.Equal(t, "./instance/catalog.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	path := writeConfig(t, `
[sharepoint]
tenant_id = "t"
client_id = "c"
site_hostname = "h"
site_path = "/sites/x"
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "client_secret")
}

func TestLoad_SecretFromEnvironment(t *testing.T) {
	t.Setenv(EnvClientSecret, "env-secret")

	path := writeConfig(t, `
[sharepoint]
tenant_id = "t"
client_id = "c"
site_hostname = "h"
site_path = "/sites/x"
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.SharePoint.ClientSecret)
}

func TestLoad_UnknownKeyIsFatal(t *testing.T) {
	path := writeConfig(t, validConfig+"\n[sync2]\nfoo = 1\n")

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidate_Rules(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.SharePoint = SharePointConfig{
			TenantID: "t", ClientID: "c", ClientSecret: "s",
			SiteHostname: "h", SitePath: "/sites/x",
		}

		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Validate(base()))
	})

	t.Run("negative size", func(t *testing.T) {
		cfg := base()
		cfg.Sync.MaxFileSizeMB = -1
		assert.Error(t, Validate(cfg))
	})

	t.Run("dotted extension", func(t *testing.T) {
		cfg := base()
		cfg.Sync.IncludeExtensions = []string{".pdf"}
		assert.Error(t, Validate(cfg))
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := base()
		cfg.Logging.LogLevel = "chatty"
		assert.Error(t, Validate(cfg))
	})

	t.Run("empty blob root", func(t *testing.T) {
		cfg := base()
		cfg.Storage.BlobRoot = " "
		assert.Error(t, Validate(cfg))
	})
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/explicit.toml", ResolvePath("/explicit.toml"))

	t.Setenv(EnvConfigPath, "/from-env.toml")
	assert.Equal(t, "/from-env.toml", ResolvePath(""))

	os.Unsetenv(EnvConfigPath)
	assert.Equal(t, defaultConfigPath, ResolvePath(""))
}
