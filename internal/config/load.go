package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Environment variable overrides. The client secret in particular should
// come from the environment rather than sit in a world-readable file.
const (
	EnvConfigPath   = "SPMIRROR_CONFIG"
	EnvClientSecret = "SPMIRROR_CLIENT_SECRET"
)

// defaultConfigPath is used when neither --config nor SPMIRROR_CONFIG is set.
const defaultConfigPath = "spmirror.toml"

// ErrConfig wraps every configuration failure so the CLI can map it to its
// exit code.
var ErrConfig = errors.New("config: invalid configuration")

// ResolvePath picks the config file path: the CLI flag wins, then the
// environment, then the default.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}

	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}

	return defaultConfigPath
}

// Load reads and parses a TOML config file, applies environment overrides,
// and validates the result. Unknown keys are fatal — a typo that silently
// disables filtering is worse than an error.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", slog.String("path", path))

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrConfig, path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrConfig, path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q in %s", ErrConfig, undecoded[0].String(), path)
	}

	applyEnvOverrides(cfg, logger)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("config loaded",
		slog.String("path", path),
		slog.String("site_hostname", cfg.SharePoint.SiteHostname),
		slog.String("site_path", cfg.SharePoint.SitePath),
	)

	return cfg, nil
}

// applyEnvOverrides lets the environment win over file values for secrets.
func applyEnvOverrides(cfg *Config, logger *slog.Logger) {
	if secret := os.Getenv(EnvClientSecret); secret != "" {
		cfg.SharePoint.ClientSecret = secret

		logger.Debug("client secret taken from environment")
	}
}
