package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads configuration from a file and environment variables.
// Environment variables are prefixed with CHIRP_ and override file values.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.metricsPath", "/metrics")
	v.SetDefault("server.connectionLimit.maxPerIP", 0)
	v.SetDefault("transport.readTimeout", "0s") // chat connections idle between messages
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.rateLimit", "")
	v.SetDefault("relay.inboxSize", 1024)
	v.SetDefault("relay.storeWorkers", 4)
	v.SetDefault("relay.storeTimeout", "5s")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "chirp.sqlite")
	v.SetDefault("auth.tokenSecret", "default-secret-key-change-me")
	v.SetDefault("auth.enforceTokens", false)
	v.SetDefault("log.level", "info")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("CHIRP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the relay cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("%w: store.dsn is required for sqlite", ErrInvalidConfig)
	}
	if c.Relay.StoreWorkers <= 0 {
		return fmt.Errorf("%w: relay.storeWorkers must be positive", ErrInvalidConfig)
	}
	if c.Relay.InboxSize <= 0 {
		return fmt.Errorf("%w: relay.inboxSize must be positive", ErrInvalidConfig)
	}
	if c.Transport.SendBuffer <= 0 {
		return fmt.Errorf("%w: transport.sendBuffer must be positive", ErrInvalidConfig)
	}
	if c.Auth.EnforceTokens && c.Auth.TokenSecret == "" {
		return fmt.Errorf("%w: auth.tokenSecret is required when tokens are enforced", ErrInvalidConfig)
	}
	return nil
}
