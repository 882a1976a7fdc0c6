package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for completeness and coherence.
// Messages name the offending key the way it appears in the file.
func Validate(cfg *Config) error {
	sp := &cfg.SharePoint

	required := []struct {
		key   string
		value string
	}{
		{"sharepoint.tenant_id", sp.TenantID},
		{"sharepoint.client_id", sp.ClientID},
		{"sharepoint.client_secret", sp.ClientSecret},
		{"sharepoint.site_hostname", sp.SiteHostname},
		{"sharepoint.site_path", sp.SitePath},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrConfig, r.key)
		}
	}

	if cfg.Sync.MaxFileSizeMB < 0 {
		return fmt.Errorf("%w: sync.max_file_size_mb must be non-negative", ErrConfig)
	}

	for _, ext := range cfg.Sync.IncludeExtensions {
		if strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: sync.include_extensions entries must not start with a dot (got %q)", ErrConfig, ext)
		}
	}

	for _, ext := range cfg.Sync.ExcludeExtensions {
		if strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: sync.exclude_extensions entries must not start with a dot (got %q)", ErrConfig, ext)
		}
	}

	switch cfg.Logging.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.log_level must be one of debug, info, warn, error (got %q)", ErrConfig, cfg.Logging.LogLevel)
	}

	if strings.TrimSpace(cfg.Storage.BlobRoot) == "" {
		return fmt.Errorf("%w: storage.blob_root is required", ErrConfig)
	}

	if strings.TrimSpace(cfg.Storage.DatabasePath) == "" {
		return fmt.Errorf("%w: storage.database_path is required", ErrConfig)
	}

	return nil
}
