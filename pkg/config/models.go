package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Relay     RelayConfig
	Store     StoreConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	MetricsPath     string                `mapstructure:"metricsPath"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int `mapstructure:"maxPerIP"` // 0 disables the limit
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
	RateLimit   string        `mapstructure:"rateLimit"` // e.g. "30/s", empty disables
}

type RelayConfig struct {
	InboxSize    int           `mapstructure:"inboxSize"`
	StoreWorkers int           `mapstructure:"storeWorkers"`
	StoreTimeout time.Duration `mapstructure:"storeTimeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "memory"
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	TokenSecret   string `mapstructure:"tokenSecret"`
	EnforceTokens bool   `mapstructure:"enforceTokens"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
