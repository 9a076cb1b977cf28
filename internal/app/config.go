package app

import (
	"proccontrol/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Optional YAML configuration file
	ConfigPath string

	// Overrides are applied after the file and the environment, in order.
	// The serve command uses them for its flags.
	Overrides []func(*config.Config)

	// Version is reported at startup.
	Version string

	// Settings is the effective configuration, filled in by NewApplication
	// unless set beforehand.
	Settings *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(configPath, version string, overrides ...func(*config.Config)) *Config {
	return &Config{
		ConfigPath: configPath,
		Overrides:  overrides,
		Version:    version,
	}
}

// LoadSettings loads, overrides and validates the configuration.
func (c *Config) LoadSettings() (config.Config, error) {
	settings, err := config.LoadConfig(c.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	for _, override := range c.Overrides {
		override(&settings)
	}
	if err := settings.Validate(); err != nil {
		return config.Config{}, err
	}
	return settings, nil
}
