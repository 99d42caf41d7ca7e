package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/viper"
)

// Config carries every runtime setting the configurator needs. It is built
// once in main and passed explicitly to the components that use it.
type Config struct {
	NodeConfigPath   string
	MetadataURL      string
	LogDir           string
	LogFile          string
	LogLevel         string
	LogFormat        string
	TelemetryEnabled bool
}

func Load() (*Config, error) {
	viper.SetDefault("node_config_path", "/etc/scylla/scylla.yaml")
	viper.SetDefault("metadata_url", "http://169.254.169.254/latest")
	viper.SetDefault("log_dir", "/var/lib/scylla/logs")
	viper.SetDefault("log_file", "nodeboot.log")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("telemetry_enabled", false)

	viper.SetEnvPrefix("nodeboot")
	viper.AutomaticEnv()

	cfg := &Config{
		NodeConfigPath:   viper.GetString("node_config_path"),
		MetadataURL:      viper.GetString("metadata_url"),
		LogDir:           viper.GetString("log_dir"),
		LogFile:          viper.GetString("log_file"),
		LogLevel:         viper.GetString("log_level"),
		LogFormat:        viper.GetString("log_format"),
		TelemetryEnabled: viper.GetBool("telemetry_enabled"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.NodeConfigPath == "" {
		return fmt.Errorf("node config path must not be empty")
	}

	if _, err := url.ParseRequestURI(c.MetadataURL); err != nil {
		return fmt.Errorf("invalid metadata URL %q: %w", c.MetadataURL, err)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.LogFormat)
	}

	return nil
}
