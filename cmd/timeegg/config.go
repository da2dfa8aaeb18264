package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration file.
type Config struct {
	APIBaseURL   string `yaml:"api_base_url"`
	MediaBaseURL string `yaml:"media_base_url"`
	DevToken     string `yaml:"dev_token,omitempty"`
	// TokenFile stores the session between invocations.
	TokenFile string `yaml:"token_file,omitempty"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "timeegg.yaml"
	}
	return filepath.Join(dir, "timeegg", "config.yaml")
}

// loadConfig reads path when it exists, then applies TIMEEGG_* overrides
// and defaults.
func loadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
	}
	if v := os.Getenv("TIMEEGG_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("TIMEEGG_MEDIA_BASE_URL"); v != "" {
		cfg.MediaBaseURL = v
	}
	if v := os.Getenv("TIMEEGG_DEV_TOKEN"); v != "" {
		cfg.DevToken = v
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.MediaBaseURL == "" {
		cfg.MediaBaseURL = cfg.APIBaseURL + "/media"
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = filepath.Join(filepath.Dir(path), "session.json")
	}
	return cfg, nil
}

// MediaURL resolves a stored media path against the media base URL.
func (c Config) MediaURL(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	base := strings.TrimSuffix(c.MediaBaseURL, "/")
	if strings.HasPrefix(p, "/media/") {
		p = strings.TrimPrefix(p, "/media")
	}
	return base + "/" + strings.TrimPrefix(p, "/")
}
