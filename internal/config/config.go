// Package config implements TOML configuration loading and validation for
// spmirror.
package config

// Config is the top-level configuration structure.
type Config struct {
	SharePoint SharePointConfig `toml:"sharepoint"`
	Sync       SyncConfig       `toml:"sync"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
}

// SharePointConfig identifies the tenant, app registration, and target site.
type SharePointConfig struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	SiteHostname string `toml:"site_hostname"`
	SitePath     string `toml:"site_path"`
	LibraryName  string `toml:"library_name"`
}

// SyncConfig controls which items are mirrored and how content is verified.
type SyncConfig struct {
	MaxFileSizeMB     int64    `toml:"max_file_size_mb"`
	IncludeExtensions []string `toml:"include_extensions"`
	ExcludeExtensions []string `toml:"exclude_extensions"`
	IncludePaths      []string `toml:"include_paths"`
	PathPatterns      []string `toml:"path_patterns"`
	MetadataOnly      bool     `toml:"metadata_only"`
	VerifyQuickXor    bool     `toml:"verify_quickxor_hash"`
}

// StorageConfig locates the instance directory contents.
type StorageConfig struct {
	BlobRoot     string `toml:"blob_root"`
	DatabasePath string `toml:"database_path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// Default instance layout.
const (
	defaultInstanceDir  = "./instance"
	defaultBlobDirName  = "blobs"
	defaultDatabaseName = "catalog.db"
	defaultMaxFileMB    = 250
)

// DefaultConfig returns a Config with defaults applied. The TOML decode
// overlays file values on top.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			MaxFileSizeMB:  defaultMaxFileMB,
			VerifyQuickXor: true,
		},
		Storage: StorageConfig{
			BlobRoot:     defaultInstanceDir + "/" + defaultBlobDirName,
			DatabasePath: defaultInstanceDir + "/" + defaultDatabaseName,
		},
		Logging: LoggingConfig{
			LogLevel: "info",
		},
	}
}
